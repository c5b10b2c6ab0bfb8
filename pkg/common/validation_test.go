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

package common_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
		errMsg  string
	}{
		{name: "valid serial", id: "MFP-00123"},
		{name: "valid uuid", id: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{name: "empty", id: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "too long", id: strings.Repeat("x", common.MaxDeviceIDLength+1), wantErr: true, errMsg: "exceeds maximum"},
		{name: "max length", id: strings.Repeat("x", common.MaxDeviceIDLength)},
		{name: "space", id: "dev 1", wantErr: true, errMsg: "invalid character"},
		{name: "newline", id: "dev\n1", wantErr: true, errMsg: "invalid character"},
		{name: "null byte", id: "dev\x001", wantErr: true, errMsg: "invalid character"},
		{name: "hash separator", id: "dev#1", wantErr: true, errMsg: "cannot contain"},
		{name: "colon separator", id: "dev:1", wantErr: true, errMsg: "cannot contain"},
		{name: "invalid utf8", id: "dev\xff", wantErr: true, errMsg: "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := common.ValidateDeviceID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDeviceID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var verr *common.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != "device_id" {
				t.Errorf("Field = %q, want device_id", verr.Field)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateLogServiceID(t *testing.T) {
	if err := common.ValidateLogServiceID("0"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := common.ValidateLogServiceID(""); err == nil {
		t.Error("expected error for empty log_service_id")
	}
}

func TestDedupeIDs(t *testing.T) {
	got := common.DedupeIDs([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("DedupeIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DedupeIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
