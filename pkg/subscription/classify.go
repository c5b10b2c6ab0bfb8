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

import "net/http"

// ResultCode is the overall code of a batch response.
type ResultCode int

const (
	ResultSuccess ResultCode = iota
	ResultPartialSuccess
	ResultConflict
	ResultBadRequest
	ResultStoreError
	ResultError
)

// HTTPStatus maps a result code to the HTTP status of the response.
func (c ResultCode) HTTPStatus() int {
	switch c {
	case ResultSuccess:
		return http.StatusOK
	case ResultPartialSuccess:
		return http.StatusMultiStatus
	case ResultConflict:
		return http.StatusConflict
	case ResultBadRequest:
		return http.StatusBadRequest
	case ResultStoreError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the default response message for the code.
func (c ResultCode) Message() string {
	switch c {
	case ResultSuccess:
		return "Success"
	case ResultPartialSuccess:
		return "Partial success"
	case ResultConflict:
		return "Operation already in progress"
	case ResultBadRequest:
		return "Bad request"
	case ResultStoreError:
		return "Record store unavailable"
	default:
		return "Internal error"
	}
}

// Outcome is what happened to one device of a batch.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomePassThrough
	OutcomeNotSubscribed
	OutcomeReported
	OutcomeConflict
	OutcomeStoreError
	OutcomeError
	OutcomeUnknown
)

// Tally counts outcomes across a batch.
type Tally map[Outcome]int

// Any reports whether any of outcomes occurred.
func (t Tally) Any(outcomes ...Outcome) bool {
	for _, o := range outcomes {
		if t[o] > 0 {
			return true
		}
	}
	return false
}

// Rule maps a predicate over a tally to a result code.
type Rule struct {
	Match func(Tally) bool
	Code  ResultCode
}

// Classifier folds a tally into a result code. The first matching rule
// wins; no match is ResultError.
type Classifier []Rule

// Classify returns the result code for t.
func (c Classifier) Classify(t Tally) ResultCode {
	for _, r := range c {
		if r.Match(t) {
			return r.Code
		}
	}
	return ResultError
}

// NewClassifier builds the standard table for an endpoint from the
// outcomes it treats as answered and as failed.
func NewClassifier(ok, failed []Outcome) Classifier {
	anyOK := func(t Tally) bool { return t.Any(ok...) }
	anyFailed := func(t Tally) bool { return t.Any(failed...) }
	return Classifier{
		{Match: func(t Tally) bool { return anyOK(t) && !anyFailed(t) }, Code: ResultSuccess},
		{Match: func(t Tally) bool { return anyOK(t) && anyFailed(t) }, Code: ResultPartialSuccess},
		{Match: func(t Tally) bool { return t.Any(OutcomeConflict) }, Code: ResultConflict},
		{Match: func(t Tally) bool { return t.Any(OutcomeStoreError) }, Code: ResultStoreError},
	}
}

var (
	// SubscribeClassifier treats stored unsubscribe failures returned as-is
	// as answered.
	SubscribeClassifier = NewClassifier(
		[]Outcome{OutcomeAccepted, OutcomePassThrough},
		[]Outcome{OutcomeConflict, OutcomeStoreError, OutcomeError},
	)

	UnsubscribeClassifier = NewClassifier(
		[]Outcome{OutcomeAccepted, OutcomeNotSubscribed},
		[]Outcome{OutcomeConflict, OutcomeStoreError, OutcomeError, OutcomeUnknown},
	)

	StatusClassifier = NewClassifier(
		[]Outcome{OutcomeReported},
		[]Outcome{OutcomeConflict, OutcomeStoreError, OutcomeError},
	)
)
