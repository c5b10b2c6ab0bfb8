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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		tally      Tally
		want       ResultCode
	}{
		{"subscribe all accepted", SubscribeClassifier, Tally{OutcomeAccepted: 2}, ResultSuccess},
		{"subscribe pass-through counts as answered", SubscribeClassifier, Tally{OutcomePassThrough: 1}, ResultSuccess},
		{"subscribe accepted and conflict", SubscribeClassifier, Tally{OutcomeAccepted: 1, OutcomeConflict: 1}, ResultPartialSuccess},
		{"subscribe accepted and store error", SubscribeClassifier, Tally{OutcomeAccepted: 1, OutcomeStoreError: 1}, ResultPartialSuccess},
		{"subscribe only conflicts", SubscribeClassifier, Tally{OutcomeConflict: 2}, ResultConflict},
		{"subscribe conflict beats store error", SubscribeClassifier, Tally{OutcomeConflict: 1, OutcomeStoreError: 1}, ResultConflict},
		{"subscribe only store errors", SubscribeClassifier, Tally{OutcomeStoreError: 1}, ResultStoreError},
		{"subscribe only errors", SubscribeClassifier, Tally{OutcomeError: 1}, ResultError},
		{"unsubscribe not subscribed is answered", UnsubscribeClassifier, Tally{OutcomeNotSubscribed: 1}, ResultSuccess},
		{"unsubscribe unknown is a failure", UnsubscribeClassifier, Tally{OutcomeAccepted: 1, OutcomeUnknown: 1}, ResultPartialSuccess},
		{"unsubscribe only unknown", UnsubscribeClassifier, Tally{OutcomeUnknown: 1}, ResultError},
		{"status reported", StatusClassifier, Tally{OutcomeReported: 3}, ResultSuccess},
		{"status reported and error", StatusClassifier, Tally{OutcomeReported: 1, OutcomeError: 1}, ResultPartialSuccess},
		{"status only store errors", StatusClassifier, Tally{OutcomeStoreError: 2}, ResultStoreError},
		{"empty tally", StatusClassifier, Tally{}, ResultError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.classifier.Classify(tt.tally))
		})
	}
}

func TestResultCodeHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, ResultSuccess.HTTPStatus())
	assert.Equal(t, http.StatusMultiStatus, ResultPartialSuccess.HTTPStatus())
	assert.Equal(t, http.StatusConflict, ResultConflict.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, ResultBadRequest.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, ResultStoreError.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ResultError.HTTPStatus())
}

func TestClampTimePeriod(t *testing.T) {
	assert.Equal(t, 30, ClampTimePeriod(0))
	assert.Equal(t, 30, ClampTimePeriod(-5))
	assert.Equal(t, 30, ClampTimePeriod(10))
	assert.Equal(t, 45, ClampTimePeriod(45))
	assert.Equal(t, 300, ClampTimePeriod(301))
}
