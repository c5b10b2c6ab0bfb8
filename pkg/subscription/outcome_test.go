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

package subscription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/deviceapi"
)

func obj(oid string, code int, msg string) common.ObjectResult {
	return common.ObjectResult{ObjectID: oid, Code: code, Message: msg}
}

func TestClassifySubscribe(t *testing.T) {
	tests := []struct {
		name     string
		res      *common.CallResult
		err      error
		want     common.Status
		wantMsg  string
		wantDrop []string
	}{
		{
			name: "success",
			res:  &common.CallResult{Code: deviceapi.CodeNoError, Objects: []common.ObjectResult{obj("1.1", 0, ""), obj("1.2", 102, "")}},
			want: common.StatusSubscribed, wantMsg: "Subscribed",
		},
		{
			name: "success drops unsupported",
			res:  &common.CallResult{Code: deviceapi.CodeNoError, Objects: []common.ObjectResult{obj("1.1", 0, ""), obj("1.2", 301, "no such oid")}},
			want: common.StatusSubscribed, wantMsg: "Subscribed", wantDrop: []string{"1.2"},
		},
		{
			name: "already subscribed",
			res:  &common.CallResult{Code: deviceapi.CodeAlreadySubscribed},
			want: common.StatusSubscribed, wantMsg: "Subscribed",
		},
		{
			name: "device offline",
			res:  &common.CallResult{Code: deviceapi.CodeSuccessDeviceOffline},
			want: common.StatusSubscribedOffline, wantMsg: "Subscribed (device offline)",
		},
		{
			name: "device not recognized",
			res:  &common.CallResult{Code: deviceapi.CodeDeviceNotRecognized, Message: "who?"},
			want: common.StatusDeviceNotFound, wantMsg: "who?",
		},
		{
			name: "partial with acceptable remainder",
			res:  &common.CallResult{Code: deviceapi.CodePartialSuccess, Objects: []common.ObjectResult{obj("1.1", 0, ""), obj("1.2", 301, "")}},
			want: common.StatusSubscribed, wantMsg: "Subscribed", wantDrop: []string{"1.2"},
		},
		{
			name: "partial uses first failing sub-response",
			res: &common.CallResult{Code: deviceapi.CodePartialSuccess, Message: "partial", Objects: []common.ObjectResult{
				obj("1.1", 0, ""), obj("1.2", 301, ""), obj("1.3", 200, "device busy"), obj("1.4", 302, "later"),
			}},
			want: common.SubscribeError(200), wantMsg: "device busy", wantDrop: []string{"1.2"},
		},
		{
			name: "internal error without sub-responses",
			res:  &common.CallResult{Code: deviceapi.CodeInternalError, Message: "upstream down"},
			want: common.SubscribeError(200), wantMsg: "upstream down",
		},
		{
			name: "other code",
			res:  &common.CallResult{Code: 999},
			want: common.SubscribeError(999), wantMsg: "Subscribe error (999)",
		},
		{
			name: "transport failure",
			err:  common.ErrTransport,
			want: common.StatusSubscribeCommunicationError, wantMsg: "Subscribe communication error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifySubscribe(tt.res, tt.err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, tt.wantMsg, out.Message)
			assert.Equal(t, tt.wantDrop, out.Drop)
			assert.False(t, out.Remove)
		})
	}
}

func TestClassifyUnsubscribe(t *testing.T) {
	tests := []struct {
		name       string
		res        *common.CallResult
		err        error
		wantRemove bool
		want       common.Status
		wantMsg    string
	}{
		{name: "success", res: &common.CallResult{Code: deviceapi.CodeNoError}, wantRemove: true, want: common.StatusNotSubscribed},
		{name: "not subscribed from service", res: &common.CallResult{Code: deviceapi.CodeNotSubscribedFromService}, wantRemove: true, want: common.StatusNotSubscribed},
		{name: "device not recognized", res: &common.CallResult{Code: deviceapi.CodeDeviceNotRecognized}, wantRemove: true, want: common.StatusNotSubscribed},
		{
			name: "partial with acceptable sub-responses",
			res: &common.CallResult{Code: deviceapi.CodePartialSuccess, Objects: []common.ObjectResult{
				obj("1.1", 0, ""), obj("1.2", 103, ""), obj("1.3", 101, ""), obj("1.4", 301, ""),
			}},
			wantRemove: true, want: common.StatusNotSubscribed,
		},
		{
			name:    "internal error with failing sub-response",
			res:     &common.CallResult{Code: deviceapi.CodeInternalError, Objects: []common.ObjectResult{obj("1.1", 0, ""), obj("1.2", 302, "not found")}},
			want:    common.UnsubscribeError(302),
			wantMsg: "not found",
		},
		{
			name:    "internal error without sub-responses",
			res:     &common.CallResult{Code: deviceapi.CodeInternalError},
			want:    common.UnsubscribeError(200),
			wantMsg: "Unsubscribe error (200)",
		},
		{name: "other code", res: &common.CallResult{Code: 102, Message: "odd"}, want: common.UnsubscribeError(102), wantMsg: "odd"},
		{name: "transport failure", err: errors.New("dial"), want: common.StatusUnsubscribeCommunicationError, wantMsg: "Unsubscribe communication error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifyUnsubscribe(tt.res, tt.err)
			assert.Equal(t, tt.wantRemove, out.Remove)
			assert.Equal(t, tt.want, out.Status)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, out.Message)
			}
		})
	}
}

func TestClassifyNotifications(t *testing.T) {
	n := func(oid string, code int, status string) common.Notification {
		return common.Notification{ObjectID: oid, Code: code, Status: status}
	}
	tests := []struct {
		name       string
		res        *common.NotificationResult
		want       common.Status
		wantRemove bool
		wantDrop   []string
	}{
		{
			name: "one online",
			res:  &common.NotificationResult{Notifications: []common.Notification{n("1.1", 0, "online"), n("1.2", 0, "offline")}},
			want: common.StatusSubscribed,
		},
		{
			name:     "online drops lost subscriptions",
			res:      &common.NotificationResult{Notifications: []common.Notification{n("1.1", 0, ""), n("1.2", 302, "")}},
			want:     common.StatusSubscribed,
			wantDrop: []string{"1.2"},
		},
		{
			name:       "device not recognized",
			res:        &common.NotificationResult{Code: deviceapi.CodeDeviceNotRecognized},
			want:       common.StatusNotSubscribed,
			wantRemove: true,
		},
		{
			name:       "every subscription lost",
			res:        &common.NotificationResult{Notifications: []common.Notification{n("1.1", 302, ""), n("1.2", 302, "")}},
			want:       common.StatusNotSubscribed,
			wantRemove: true,
		},
		{
			name: "all offline",
			res:  &common.NotificationResult{Notifications: []common.Notification{n("1.1", 0, "offline"), n("1.2", 101, "")}},
			want: common.StatusSubscribedOffline,
		},
		{
			name: "empty answer",
			res:  &common.NotificationResult{},
			want: common.StatusSubscribedOffline,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifyNotifications(tt.res)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, tt.wantRemove, out.Remove)
			assert.Equal(t, tt.wantDrop, out.Drop)
		})
	}
}

func TestOutcomeChanges(t *testing.T) {
	cur := Logical{Status: common.StatusSubscribed, ObjectIDs: []string{"1.1", "1.2"}}
	assert.False(t, taskOutcome{Status: common.StatusSubscribed}.changes(cur))
	assert.False(t, taskOutcome{Status: common.StatusSubscribed, Drop: []string{"9.9"}}.changes(cur))
	assert.True(t, taskOutcome{Status: common.StatusSubscribed, Drop: []string{"1.2"}}.changes(cur))
	assert.True(t, taskOutcome{Status: common.StatusSubscribedOffline}.changes(cur))
	assert.True(t, taskOutcome{Remove: true}.changes(cur))

	assert.True(t, taskOutcome{Drop: []string{"1.1", "1.2"}}.removesAll(cur.ObjectIDs))
	assert.False(t, taskOutcome{Drop: []string{"1.1"}}.removesAll(cur.ObjectIDs))
}
