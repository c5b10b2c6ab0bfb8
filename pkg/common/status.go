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

import "fmt"

// StatusKind is the closed set of subscription states.
type StatusKind int

const (
	// KindNotSubscribed means no row exists or the device was confirmed unsubscribed.
	KindNotSubscribed StatusKind = iota
	// KindDeviceNotFound means the device API does not recognize the device.
	KindDeviceNotFound
	// KindSubscribeAccepted means a subscribe is recorded and reconciliation is pending.
	KindSubscribeAccepted
	// KindSubscribed means the device API confirmed the subscription and the device is online.
	KindSubscribed
	// KindSubscribedOffline means the device is subscribed but unreachable.
	KindSubscribedOffline
	// KindUnsubscribeAccepted means an unsubscribe is recorded and reconciliation is pending.
	KindUnsubscribeAccepted
	// KindSubscribeError means subscribe reconciliation failed with an upstream code.
	KindSubscribeError
	// KindUnsubscribeError means unsubscribe reconciliation failed with an upstream code.
	KindUnsubscribeError
	// KindUnknown is an unclassified or communication failure.
	KindUnknown
)

// Variants of KindUnknown, carried in Status.Code.
const (
	UnknownGeneric = iota
	UnknownSubscribeCommunication
	UnknownUnsubscribeCommunication
)

// Wire encoding of statuses. Error kinds add the upstream code to their offset.
const (
	wireNotSubscribed       = 0
	wireDeviceNotFound      = 1
	wireSubscribeAccepted   = 10
	wireSubscribed          = 11
	wireSubscribedOffline   = 12
	wireUnsubscribeAccepted = 20
	wireUnknown             = 90

	// SubscribeErrorOffset is added to an upstream code to encode a subscribe failure.
	SubscribeErrorOffset = 10000
	// UnsubscribeErrorOffset is added to an upstream code to encode an unsubscribe failure.
	UnsubscribeErrorOffset = 20000
	// MaxUpstreamCode is the largest upstream code representable in the wire encoding.
	MaxUpstreamCode = 9999
)

// Status is a subscription status: a kind plus, for error and unknown kinds, a code.
type Status struct {
	Kind StatusKind
	Code int
}

// Common status values.
var (
	StatusNotSubscribed       = Status{Kind: KindNotSubscribed}
	StatusDeviceNotFound      = Status{Kind: KindDeviceNotFound}
	StatusSubscribeAccepted   = Status{Kind: KindSubscribeAccepted}
	StatusSubscribed          = Status{Kind: KindSubscribed}
	StatusSubscribedOffline   = Status{Kind: KindSubscribedOffline}
	StatusUnsubscribeAccepted = Status{Kind: KindUnsubscribeAccepted}
	StatusUnknown             = Status{Kind: KindUnknown, Code: UnknownGeneric}

	StatusSubscribeCommunicationError   = Status{Kind: KindUnknown, Code: UnknownSubscribeCommunication}
	StatusUnsubscribeCommunicationError = Status{Kind: KindUnknown, Code: UnknownUnsubscribeCommunication}
)

// SubscribeError returns the subscribe failure status for an upstream code.
func SubscribeError(code int) Status {
	return Status{Kind: KindSubscribeError, Code: clampUpstream(code)}
}

// UnsubscribeError returns the unsubscribe failure status for an upstream code.
func UnsubscribeError(code int) Status {
	return Status{Kind: KindUnsubscribeError, Code: clampUpstream(code)}
}

func clampUpstream(code int) int {
	if code < 0 || code > MaxUpstreamCode {
		return MaxUpstreamCode
	}
	return code
}

// Int returns the integer wire form of the status.
func (s Status) Int() int {
	switch s.Kind {
	case KindNotSubscribed:
		return wireNotSubscribed
	case KindDeviceNotFound:
		return wireDeviceNotFound
	case KindSubscribeAccepted:
		return wireSubscribeAccepted
	case KindSubscribed:
		return wireSubscribed
	case KindSubscribedOffline:
		return wireSubscribedOffline
	case KindUnsubscribeAccepted:
		return wireUnsubscribeAccepted
	case KindSubscribeError:
		return SubscribeErrorOffset + s.Code
	case KindUnsubscribeError:
		return UnsubscribeErrorOffset + s.Code
	case KindUnknown:
		switch s.Code {
		case UnknownSubscribeCommunication, UnknownUnsubscribeCommunication:
			return wireUnknown + s.Code
		}
		return wireUnknown
	default:
		return wireUnknown
	}
}

// StatusFromInt decodes the wire form. Unrecognized values decode to StatusUnknown.
func StatusFromInt(v int) Status {
	switch {
	case v == wireNotSubscribed:
		return StatusNotSubscribed
	case v == wireDeviceNotFound:
		return StatusDeviceNotFound
	case v == wireSubscribeAccepted:
		return StatusSubscribeAccepted
	case v == wireSubscribed:
		return StatusSubscribed
	case v == wireSubscribedOffline:
		return StatusSubscribedOffline
	case v == wireUnsubscribeAccepted:
		return StatusUnsubscribeAccepted
	case v == wireUnknown+UnknownSubscribeCommunication:
		return StatusSubscribeCommunicationError
	case v == wireUnknown+UnknownUnsubscribeCommunication:
		return StatusUnsubscribeCommunicationError
	case v >= SubscribeErrorOffset && v <= SubscribeErrorOffset+MaxUpstreamCode:
		return SubscribeError(v - SubscribeErrorOffset)
	case v >= UnsubscribeErrorOffset && v <= UnsubscribeErrorOffset+MaxUpstreamCode:
		return UnsubscribeError(v - UnsubscribeErrorOffset)
	default:
		return StatusUnknown
	}
}

// IsInFlight reports whether a subscribe or unsubscribe is pending reconciliation.
func (s Status) IsInFlight() bool {
	return s.Kind == KindSubscribeAccepted || s.Kind == KindUnsubscribeAccepted
}

// IsSubscribedOrOffline reports whether the device API confirmed the subscription.
func (s Status) IsSubscribedOrOffline() bool {
	return s.Kind == KindSubscribed || s.Kind == KindSubscribedOffline
}

// IsError reports whether the status records a reconciliation failure.
func (s Status) IsError() bool {
	return s.Kind == KindSubscribeError || s.Kind == KindUnsubscribeError || s.Kind == KindUnknown
}

// DefaultMessage is the message recorded with a status when no upstream text applies.
func (s Status) DefaultMessage() string {
	switch s.Kind {
	case KindNotSubscribed:
		return "Not Subscribed"
	case KindDeviceNotFound:
		return "Device not found"
	case KindSubscribeAccepted:
		return "Subscribe accepted"
	case KindSubscribed:
		return "Subscribed"
	case KindSubscribedOffline:
		return "Subscribed (device offline)"
	case KindUnsubscribeAccepted:
		return "Unsubscribe accepted"
	case KindSubscribeError:
		return fmt.Sprintf("Subscribe error (%d)", s.Code)
	case KindUnsubscribeError:
		return fmt.Sprintf("Unsubscribe error (%d)", s.Code)
	}
	switch s.Code {
	case UnknownSubscribeCommunication:
		return "Subscribe communication error"
	case UnknownUnsubscribeCommunication:
		return "Unsubscribe communication error"
	}
	return "Unknown error"
}

// String returns a short name for logs.
func (s Status) String() string {
	switch s.Kind {
	case KindNotSubscribed:
		return "NOT_SUBSCRIBED"
	case KindDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case KindSubscribeAccepted:
		return "SUBSCRIBE_ACCEPTED"
	case KindSubscribed:
		return "SUBSCRIBED"
	case KindSubscribedOffline:
		return "SUBSCRIBED_OFFLINE"
	case KindUnsubscribeAccepted:
		return "UNSUBSCRIBE_ACCEPTED"
	case KindSubscribeError:
		return fmt.Sprintf("SUBSCRIBE_ERROR(%d)", s.Code)
	case KindUnsubscribeError:
		return fmt.Sprintf("UNSUBSCRIBE_ERROR(%d)", s.Code)
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s.Code)
	}
}
