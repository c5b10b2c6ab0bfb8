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

// Package audit records subscription transitions and API access.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/adapters"
	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventAuthFailure indicates an authentication failure
	EventAuthFailure EventType = "AUTH_FAILURE"

	// EventAuthSuccess indicates successful authentication
	EventAuthSuccess EventType = "AUTH_SUCCESS"

	// EventSubscriptionAccepted indicates a subscribe or unsubscribe was recorded
	EventSubscriptionAccepted EventType = "SUBSCRIPTION_ACCEPTED"

	// EventSubscriptionReconciled indicates a reconciliation task recorded an outcome
	EventSubscriptionReconciled EventType = "SUBSCRIPTION_RECONCILED"

	// EventSubscriptionRemoved indicates a device group's rows were deleted
	EventSubscriptionRemoved EventType = "SUBSCRIPTION_REMOVED"

	// EventAPIRequest indicates an API request was served
	EventAPIRequest EventType = "API_REQUEST"
)

// Result represents the outcome of an audited operation
type Result string

const (
	// ResultSuccess indicates the operation succeeded
	ResultSuccess Result = "SUCCESS"

	// ResultFailure indicates the operation failed
	ResultFailure Result = "FAILURE"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	Principal string    `json:"principal,omitempty"`

	// DeviceID and LogServiceID identify the subscription group
	DeviceID     string `json:"device_id,omitempty"`
	LogServiceID string `json:"log_service_id,omitempty"`
	TaskID       string `json:"task_id,omitempty"`

	// FromStatus and ToStatus are wire-encoded statuses
	FromStatus *int `json:"from_status,omitempty"`
	ToStatus   *int `json:"to_status,omitempty"`

	Action       string         `json:"action"`
	Result       Result         `json:"result"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Method       string         `json:"method,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Transition describes one recorded subscription state change.
type Transition struct {
	Key     common.GroupKey
	TaskID  string
	Action  string
	From    common.Status
	To      common.Status
	Removed bool
}

// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	// LogEvent logs a generic audit event
	LogEvent(ctx context.Context, event *AuditEvent) error

	// LogAuthFailure logs authentication failures
	LogAuthFailure(ctx context.Context, userID, principal, ipAddress, requestID, reason string) error

	// LogAuthSuccess logs successful authentication
	LogAuthSuccess(ctx context.Context, userID, principal, ipAddress, requestID string) error

	// LogTransition logs a subscription status change written to the store
	LogTransition(ctx context.Context, tr Transition, err error) error

	// SetLevel sets the minimum audit level (for filtering)
	SetLevel(level adapters.LogLevel)

	// GetLevel returns the current audit level
	GetLevel() adapters.LogLevel
}

// OutputFormat specifies the format for audit log output
type OutputFormat string

const (
	// FormatJSON outputs audit logs in JSON format
	FormatJSON OutputFormat = "json"

	// FormatText outputs audit logs in human-readable text format
	FormatText OutputFormat = "text"
)

// Config holds configuration for the audit logger
type Config struct {
	// Enabled determines if audit logging is active
	Enabled bool

	// Format specifies the output format (JSON or text)
	Format OutputFormat

	// Level sets the minimum log level
	Level adapters.LogLevel

	// Output specifies where to write logs (defaults to stdout)
	Output io.Writer

	// IncludeMetadata determines if extra metadata should be logged
	IncludeMetadata bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Format:          FormatJSON,
		Level:           adapters.InfoLevel,
		Output:          os.Stdout,
		IncludeMetadata: true,
	}
}

// DefaultAuditLogger implements AuditLogger using slog
type DefaultAuditLogger struct {
	config *Config
	logger *slog.Logger
	mu     sync.RWMutex
	level  adapters.LogLevel
}

// NewDefaultAuditLogger creates a new audit logger with default configuration
func NewDefaultAuditLogger() AuditLogger {
	return NewAuditLogger(DefaultConfig())
}

// NewAuditLogger creates a new audit logger with the specified configuration
func NewAuditLogger(config *Config) AuditLogger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return &DefaultAuditLogger{
		config: config,
		logger: slog.New(handler),
		level:  config.Level,
	}
}

// LogEvent logs a generic audit event
func (a *DefaultAuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	if !a.config.Enabled || event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		if id, ok := ctx.Value(adapters.RequestIDKey).(string); ok {
			event.RequestID = id
		}
	}

	attrs := []slog.Attr{
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", string(event.EventType)),
		slog.String("action", event.Action),
		slog.String("result", string(event.Result)),
	}
	str := func(k, v string) {
		if v != "" {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	str("user_id", event.UserID)
	str("principal", event.Principal)
	str("device_id", event.DeviceID)
	str("log_service_id", event.LogServiceID)
	str("task_id", event.TaskID)
	str("error", event.ErrorMessage)
	str("ip_address", event.IPAddress)
	str("request_id", event.RequestID)
	str("method", event.Method)
	if event.FromStatus != nil {
		attrs = append(attrs, slog.Int("from_status", *event.FromStatus))
	}
	if event.ToStatus != nil {
		attrs = append(attrs, slog.Int("to_status", *event.ToStatus))
	}
	if event.StatusCode > 0 {
		attrs = append(attrs, slog.Int("status_code", event.StatusCode))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if a.config.IncludeMetadata && len(event.Metadata) > 0 {
		metadataJSON, _ := json.Marshal(event.Metadata) //nolint:errcheck // marshaling simple map types is safe
		attrs = append(attrs, slog.String("metadata", string(metadataJSON)))
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "Audit event: "+event.Action, attrs...)
	return nil
}

// LogAuthFailure logs authentication failures
func (a *DefaultAuditLogger) LogAuthFailure(ctx context.Context, userID, principal, ipAddress, requestID, reason string) error {
	return a.LogEvent(ctx, &AuditEvent{
		EventType:    EventAuthFailure,
		UserID:       userID,
		Principal:    principal,
		Action:       "authenticate",
		Result:       ResultFailure,
		ErrorMessage: reason,
		IPAddress:    ipAddress,
		RequestID:    requestID,
	})
}

// LogAuthSuccess logs successful authentication
func (a *DefaultAuditLogger) LogAuthSuccess(ctx context.Context, userID, principal, ipAddress, requestID string) error {
	return a.LogEvent(ctx, &AuditEvent{
		EventType: EventAuthSuccess,
		UserID:    userID,
		Principal: principal,
		Action:    "authenticate",
		Result:    ResultSuccess,
		IPAddress: ipAddress,
		RequestID: requestID,
	})
}

// LogTransition logs a subscription status change
func (a *DefaultAuditLogger) LogTransition(ctx context.Context, tr Transition, err error) error {
	from, to := tr.From.Int(), tr.To.Int()
	event := &AuditEvent{
		EventType:    transitionEventType(tr),
		DeviceID:     tr.Key.DeviceID,
		LogServiceID: tr.Key.LogServiceID,
		TaskID:       tr.TaskID,
		FromStatus:   &from,
		ToStatus:     &to,
		Action:       tr.Action,
		Result:       ResultSuccess,
	}
	if err != nil {
		event.Result = ResultFailure
		event.ErrorMessage = err.Error()
	}
	return a.LogEvent(ctx, event)
}

func transitionEventType(tr Transition) EventType {
	switch {
	case tr.Removed:
		return EventSubscriptionRemoved
	case tr.To.IsInFlight():
		return EventSubscriptionAccepted
	default:
		return EventSubscriptionReconciled
	}
}

// SetLevel sets the minimum audit level
func (a *DefaultAuditLogger) SetLevel(level adapters.LogLevel) {
	a.mu.Lock()
	a.level = level
	a.mu.Unlock()
}

// GetLevel returns the current audit level
func (a *DefaultAuditLogger) GetLevel() adapters.LogLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.level
}

// NoOpAuditLogger is an audit logger that discards all events
type NoOpAuditLogger struct {
	level adapters.LogLevel
}

// NewNoOpAuditLogger creates a new no-op audit logger
func NewNoOpAuditLogger() AuditLogger {
	return &NoOpAuditLogger{level: adapters.InfoLevel}
}

func (n *NoOpAuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (n *NoOpAuditLogger) LogAuthFailure(ctx context.Context, userID, principal, ipAddress, requestID, reason string) error {
	return nil
}

func (n *NoOpAuditLogger) LogAuthSuccess(ctx context.Context, userID, principal, ipAddress, requestID string) error {
	return nil
}

func (n *NoOpAuditLogger) LogTransition(ctx context.Context, tr Transition, err error) error {
	return nil
}

func (n *NoOpAuditLogger) SetLevel(level adapters.LogLevel) {
	n.level = level
}

func (n *NoOpAuditLogger) GetLevel() adapters.LogLevel {
	return n.level
}
