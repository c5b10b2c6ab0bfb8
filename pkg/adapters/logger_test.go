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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, WarnLevel)
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v %v", entries[0]["level"], entries[1]["level"])
	}

	buf.Reset()
	logger.SetLevel(DebugLevel)
	logger.Debug(ctx, "debug")
	if entries := decodeLines(t, &buf); len(entries) != 1 || entries[0]["msg"] != "debug" {
		t.Errorf("expected debug entry after SetLevel, got %v", entries)
	}
}

func TestDefaultLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, DebugLevel)
	logger := base.WithFields(Field{Key: "component", Value: "dispatch"})

	logger.Info(context.Background(), "task done",
		Field{Key: "task_id", Value: "t-1"},
		ErrorField(errors.New("boom")),
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["component"] != "dispatch" || e["task_id"] != "t-1" || e["error"] != "boom" {
		t.Errorf("missing fields: %v", e)
	}

	// derived loggers share the parent level
	base.SetLevel(ErrorLevel)
	if logger.GetLevel() != ErrorLevel {
		t.Errorf("derived logger level = %v, want ERROR", logger.GetLevel())
	}
}

func TestDefaultLoggerRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, InfoLevel)
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-42")

	logger.Info(ctx, "handled")
	logger.WithContext(ctx).Info(nil, "handled again") //nolint:staticcheck

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e["request_id"] != "req-42" {
			t.Errorf("request_id = %v, want req-42", e["request_id"])
		}
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	ctx := context.Background()
	logger.Debug(ctx, "x")
	logger.Info(ctx, "x")
	logger.Warn(ctx, "x")
	logger.Error(ctx, "x")

	if logger.WithFields(Field{Key: "a", Value: 1}) != logger {
		t.Error("WithFields should return the same no-op logger")
	}
	logger.SetLevel(DebugLevel)
	if logger.GetLevel() != DebugLevel {
		t.Errorf("GetLevel() = %v, want DEBUG", logger.GetLevel())
	}
}
