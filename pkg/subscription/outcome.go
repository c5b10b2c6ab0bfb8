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
	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/deviceapi"
)

// taskOutcome is the classified result of a device API call.
type taskOutcome struct {
	Status  common.Status
	Message string

	// Drop lists OIDs whose rows are deleted.
	Drop []string

	// Remove deletes the whole group.
	Remove bool
}

var (
	subscribeAcceptable = codeSet(deviceapi.CodeNoError, deviceapi.CodeAlreadySubscribed)

	unsubscribeAcceptable = codeSet(
		deviceapi.CodeNoError,
		deviceapi.CodeNotSubscribedFromService,
		deviceapi.CodeSuccessDeviceOffline,
		deviceapi.CodeNoSuchOID,
	)
)

func codeSet(codes ...int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

func withMessage(s common.Status, msg string) string {
	if msg == "" {
		return s.DefaultMessage()
	}
	return msg
}

// unsupported returns the OIDs the device API reported as unknown.
func unsupported(objects []common.ObjectResult) []string {
	var drop []string
	for _, o := range objects {
		if o.Code == deviceapi.CodeNoSuchOID {
			drop = append(drop, o.ObjectID)
		}
	}
	return drop
}

// firstFailure returns the first sub-response outside acceptable, skipping
// unsupported OIDs that are dropped instead.
func firstFailure(objects []common.ObjectResult, acceptable map[int]bool, skipUnsupported bool) (common.ObjectResult, bool) {
	for _, o := range objects {
		if skipUnsupported && o.Code == deviceapi.CodeNoSuchOID {
			continue
		}
		if !acceptable[o.Code] {
			return o, true
		}
	}
	return common.ObjectResult{}, false
}

// classifySubscribe maps a subscribe call result to the status to record.
func classifySubscribe(res *common.CallResult, err error) taskOutcome {
	if err != nil || res == nil {
		s := common.StatusSubscribeCommunicationError
		return taskOutcome{Status: s, Message: s.DefaultMessage()}
	}

	switch res.Code {
	case deviceapi.CodeNoError, deviceapi.CodeAlreadySubscribed:
		s := common.StatusSubscribed
		return taskOutcome{Status: s, Message: s.DefaultMessage(), Drop: unsupported(res.Objects)}

	case deviceapi.CodeSuccessDeviceOffline:
		s := common.StatusSubscribedOffline
		return taskOutcome{Status: s, Message: s.DefaultMessage()}

	case deviceapi.CodeDeviceNotRecognized:
		s := common.StatusDeviceNotFound
		return taskOutcome{Status: s, Message: withMessage(s, res.Message)}

	case deviceapi.CodePartialSuccess, deviceapi.CodeInternalError:
		drop := unsupported(res.Objects)
		if failed, ok := firstFailure(res.Objects, subscribeAcceptable, true); ok {
			s := common.SubscribeError(failed.Code)
			return taskOutcome{Status: s, Message: withMessage(s, failed.Message), Drop: drop}
		}
		if res.Code == deviceapi.CodeInternalError && len(res.Objects) == 0 {
			s := common.SubscribeError(res.Code)
			return taskOutcome{Status: s, Message: withMessage(s, res.Message)}
		}
		s := common.StatusSubscribed
		return taskOutcome{Status: s, Message: s.DefaultMessage(), Drop: drop}

	default:
		s := common.SubscribeError(res.Code)
		return taskOutcome{Status: s, Message: withMessage(s, res.Message)}
	}
}

// classifyUnsubscribe maps an unsubscribe call result to the status to record.
func classifyUnsubscribe(res *common.CallResult, err error) taskOutcome {
	if err != nil || res == nil {
		s := common.StatusUnsubscribeCommunicationError
		return taskOutcome{Status: s, Message: s.DefaultMessage()}
	}

	removed := taskOutcome{Status: common.StatusNotSubscribed, Message: common.StatusNotSubscribed.DefaultMessage(), Remove: true}
	switch res.Code {
	case deviceapi.CodeNoError, deviceapi.CodeNotSubscribedFromService, deviceapi.CodeDeviceNotRecognized:
		return removed

	case deviceapi.CodePartialSuccess, deviceapi.CodeInternalError:
		if failed, ok := firstFailure(res.Objects, unsubscribeAcceptable, false); ok {
			s := common.UnsubscribeError(failed.Code)
			return taskOutcome{Status: s, Message: withMessage(s, failed.Message)}
		}
		if res.Code == deviceapi.CodeInternalError && len(res.Objects) == 0 {
			s := common.UnsubscribeError(res.Code)
			return taskOutcome{Status: s, Message: withMessage(s, res.Message)}
		}
		return removed

	default:
		s := common.UnsubscribeError(res.Code)
		return taskOutcome{Status: s, Message: withMessage(s, res.Message)}
	}
}

// classifyNotifications maps a get-notification-result answer to the status
// to record. An OID reports success when its code is no-error and it is
// not reported offline.
func classifyNotifications(res *common.NotificationResult) taskOutcome {
	var online, notFound int
	var drop []string
	for _, n := range res.Notifications {
		switch {
		case n.Code == deviceapi.CodeObjectSubscriptionNotFound:
			notFound++
			drop = append(drop, n.ObjectID)
		case n.Code == deviceapi.CodeNoError && n.Status != deviceapi.NotificationOffline:
			online++
		}
	}

	switch {
	case online > 0:
		s := common.StatusSubscribed
		return taskOutcome{Status: s, Message: s.DefaultMessage(), Drop: drop}
	case res.Code == deviceapi.CodeDeviceNotRecognized,
		res.Code == deviceapi.CodeObjectSubscriptionNotFound,
		len(res.Notifications) > 0 && notFound == len(res.Notifications):
		s := common.StatusNotSubscribed
		return taskOutcome{Status: s, Message: s.DefaultMessage(), Remove: true}
	default:
		s := common.StatusSubscribedOffline
		return taskOutcome{Status: s, Message: s.DefaultMessage()}
	}
}

// removesAll reports whether applying out to a group with oids leaves no rows.
func (out taskOutcome) removesAll(oids []string) bool {
	if out.Remove {
		return true
	}
	drop := make(map[string]bool, len(out.Drop))
	for _, d := range out.Drop {
		drop[d] = true
	}
	for _, oid := range oids {
		if !drop[oid] {
			return false
		}
	}
	return true
}

// changes reports whether recording out would alter a group in state cur.
func (out taskOutcome) changes(cur Logical) bool {
	if out.Remove || out.Status != cur.Status {
		return true
	}
	present := make(map[string]bool, len(cur.ObjectIDs))
	for _, oid := range cur.ObjectIDs {
		present[oid] = true
	}
	for _, d := range out.Drop {
		if present[d] {
			return true
		}
	}
	return false
}
