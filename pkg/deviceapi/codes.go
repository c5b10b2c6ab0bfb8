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

// Package deviceapi is the HTTP client for the external device management
// service that performs subscriptions on devices.
package deviceapi

// Upstream result codes, used both for whole calls and per-OID sub-responses.
const (
	CodeNoError                    = 0
	CodePartialSuccess             = 100
	CodeSuccessDeviceOffline       = 101
	CodeAlreadySubscribed          = 102
	CodeNotSubscribedFromService   = 103
	CodeInternalError              = 200
	CodeDeviceNotRecognized        = 300
	CodeNoSuchOID                  = 301
	CodeObjectSubscriptionNotFound = 302
)

// Notification statuses reported by get-notification-result.
const (
	NotificationOnline  = "online"
	NotificationOffline = "offline"
)

// CodeName returns a short name for an upstream code.
func CodeName(code int) string {
	switch code {
	case CodeNoError:
		return "NO_ERROR"
	case CodePartialSuccess:
		return "PARTIAL_SUCCESS"
	case CodeSuccessDeviceOffline:
		return "SUCCESS_DEVICE_OFFLINE"
	case CodeAlreadySubscribed:
		return "ALREADY_SUBSCRIBED"
	case CodeNotSubscribedFromService:
		return "NOT_SUBSCRIBED_FROM_SERVICE"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeDeviceNotRecognized:
		return "DEVICE_NOT_RECOGNIZED"
	case CodeNoSuchOID:
		return "NO_SUCH_OID"
	case CodeObjectSubscriptionNotFound:
		return "OBJECT_SUBSCRIPTION_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}
