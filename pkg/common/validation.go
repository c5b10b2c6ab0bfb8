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

package common

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxDeviceIDLength is the maximum allowed length for device ids
	MaxDeviceIDLength = 128

	// MaxLogServiceIDLength is the maximum allowed length for log service ids
	MaxLogServiceIDLength = 64

	// MaxObjectIDLength is the maximum allowed length for object identifiers
	MaxObjectIDLength = 256
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidateDeviceID validates a device id. Returns error if the id:
// - Is empty
// - Exceeds maximum length
// - Is not valid UTF-8
// - Contains non-printable characters or the key separators '#' and ':'
func ValidateDeviceID(id string) error {
	return validateIdentifier("device_id", id, MaxDeviceIDLength)
}

// ValidateLogServiceID validates a log service id with the same rules as device ids.
func ValidateLogServiceID(id string) error {
	return validateIdentifier("log_service_id", id, MaxLogServiceIDLength)
}

// ValidateObjectID validates an OID from the service registry.
func ValidateObjectID(oid string) error {
	return validateIdentifier("oid", oid, MaxObjectIDLength)
}

func validateIdentifier(field, value string, maxLen int) error {
	if value == "" {
		return &ValidationError{Field: field, Message: field + " cannot be empty"}
	}
	if len(value) > maxLen {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s length exceeds maximum of %d bytes", field, maxLen),
		}
	}
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: field + " must be valid UTF-8"}
	}
	for _, r := range value {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s contains invalid character %q", field, r),
			}
		}
		// '#' and ':' delimit cache and store keys
		if r == '#' || r == ':' {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s cannot contain %q", field, r),
			}
		}
	}
	return nil
}

// DedupeIDs returns ids with later duplicates removed, preserving order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
