// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package adapters

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is returned when credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingCredentials is returned when required credentials are missing.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInsufficientPermissions is returned when the authenticated principal lacks required permissions.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

// APIKeyHeader is the header carrying a static API key.
const APIKeyHeader = "X-Api-Key"

// Principal represents an authenticated caller.
type Principal struct {
	ID    string
	Name  string
	Type  string
	Roles []string
}

// HasRole checks if the principal has the specified role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator authenticates inbound HTTP requests.
type Authenticator interface {
	// AuthenticateHTTP returns the principal of the request or ErrUnauthorized.
	AuthenticateHTTP(ctx context.Context, req *http.Request) (*Principal, error)

	// ValidatePermission checks whether principal may perform action on resource.
	ValidatePermission(ctx context.Context, principal *Principal, resource, action string) error
}

var anonymous = Principal{ID: "anonymous", Name: "Anonymous", Type: "anonymous"}

// NoOpAuthenticator is an authenticator that allows all requests (no authentication).
// Useful for development or when authentication is handled by a gateway.
type NoOpAuthenticator struct{}

// NewNoOpAuthenticator creates a new no-op authenticator.
func NewNoOpAuthenticator() *NoOpAuthenticator {
	return &NoOpAuthenticator{}
}

// AuthenticateHTTP allows all HTTP requests.
func (a *NoOpAuthenticator) AuthenticateHTTP(ctx context.Context, req *http.Request) (*Principal, error) {
	p := anonymous
	return &p, nil
}

// ValidatePermission allows all operations.
func (a *NoOpAuthenticator) ValidatePermission(ctx context.Context, principal *Principal, resource, action string) error {
	return nil
}

// APIKeyAuthenticator accepts requests presenting a fixed key, either in the
// X-Api-Key header or as a bearer token.
type APIKeyAuthenticator struct {
	key   []byte
	roles []string
}

// NewAPIKeyAuthenticator creates an authenticator for key. Authenticated
// callers receive roles.
func NewAPIKeyAuthenticator(key string, roles ...string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{key: []byte(key), roles: roles}
}

// AuthenticateHTTP checks the presented key in constant time.
func (a *APIKeyAuthenticator) AuthenticateHTTP(ctx context.Context, req *http.Request) (*Principal, error) {
	presented := req.Header.Get(APIKeyHeader)
	if presented == "" {
		auth := req.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if presented == "" {
		return nil, ErrMissingCredentials
	}
	if len(a.key) == 0 || subtle.ConstantTimeCompare([]byte(presented), a.key) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &Principal{ID: "api-key", Name: "API key", Type: "service", Roles: a.roles}, nil
}

// ValidatePermission allows every action to a key holder.
func (a *APIKeyAuthenticator) ValidatePermission(ctx context.Context, principal *Principal, resource, action string) error {
	if principal == nil {
		return ErrInsufficientPermissions
	}
	return nil
}

// CompositeAuthenticator allows multiple authentication methods to be tried in order.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator creates a new composite authenticator.
func NewCompositeAuthenticator(authenticators ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{authenticators: authenticators}
}

// AuthenticateHTTP tries each authenticator in order until one succeeds.
func (a *CompositeAuthenticator) AuthenticateHTTP(ctx context.Context, req *http.Request) (*Principal, error) {
	var lastErr error
	for _, auth := range a.authenticators {
		principal, err := auth.AuthenticateHTTP(ctx, req)
		if err == nil {
			return principal, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrUnauthorized
}

// ValidatePermission uses the first authenticator for permission validation.
func (a *CompositeAuthenticator) ValidatePermission(ctx context.Context, principal *Principal, resource, action string) error {
	if len(a.authenticators) > 0 {
		return a.authenticators[0].ValidatePermission(ctx, principal, resource, action)
	}
	return nil
}
