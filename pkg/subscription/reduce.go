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
	"sort"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// ReadContext selects the priority order used to reduce a group.
type ReadContext int

const (
	// SubscribeRead surfaces anything that should block or redirect a subscribe.
	SubscribeRead ReadContext = iota
	// UnsubscribeRead is SubscribeRead with unsubscribe failures ranked first.
	UnsubscribeRead
	// InfoRead surfaces the most abnormal state for status queries.
	InfoRead
)

// Category is a reduction bucket.
type Category int

const (
	CategoryUnclassified Category = iota
	CategoryInFlight
	CategorySubscribeError
	CategoryUnsubscribeError
	CategoryOffline
	CategorySubscribed
)

// priorities lists, per read context, the categories from highest to lowest.
var priorities = map[ReadContext][]Category{
	SubscribeRead: {
		CategoryUnclassified,
		CategoryInFlight,
		CategorySubscribeError,
		CategoryUnsubscribeError,
		CategoryOffline,
		CategorySubscribed,
	},
	UnsubscribeRead: {
		CategoryUnclassified,
		CategoryInFlight,
		CategoryUnsubscribeError,
		CategorySubscribeError,
		CategoryOffline,
		CategorySubscribed,
	},
	InfoRead: {
		CategoryUnclassified,
		CategoryOffline,
		CategorySubscribed,
	},
}

// Categorize places a status into the category it occupies for rc.
// Statuses whose category is not ranked in rc are unclassified.
func Categorize(s common.Status, rc ReadContext) Category {
	var c Category
	switch s.Kind {
	case common.KindSubscribeAccepted, common.KindUnsubscribeAccepted:
		c = CategoryInFlight
	case common.KindSubscribeError:
		c = CategorySubscribeError
	case common.KindUnsubscribeError:
		c = CategoryUnsubscribeError
	case common.KindSubscribedOffline:
		c = CategoryOffline
	case common.KindSubscribed:
		c = CategorySubscribed
	default:
		return CategoryUnclassified
	}
	for _, ranked := range priorities[rc] {
		if ranked == c {
			return c
		}
	}
	return CategoryUnclassified
}

// Logical is the derived status of one device for one log service.
type Logical struct {
	Status        common.Status
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TaskID        string
	AppliedTaskID string

	// ObjectIDs lists every OID of the group, sorted.
	ObjectIDs []string
}

// Reduce collapses a group's rows into its logical status. ok is false for
// an empty group. The winner is the most recently updated row of the
// highest-priority category present; ties go to the lowest object id.
func Reduce(rows []common.Row, rc ReadContext) (Logical, bool) {
	if len(rows) == 0 {
		return Logical{}, false
	}

	rank := make(map[Category]int, len(priorities[rc]))
	for i, c := range priorities[rc] {
		rank[c] = i
	}

	var winner *common.Row
	winnerRank := 0
	for i := range rows {
		r := &rows[i]
		rk := rank[Categorize(r.Status, rc)]
		switch {
		case winner == nil,
			rk < winnerRank,
			rk == winnerRank && r.UpdatedAt.After(winner.UpdatedAt),
			rk == winnerRank && r.UpdatedAt.Equal(winner.UpdatedAt) && r.ObjectID < winner.ObjectID:
			winner, winnerRank = r, rk
		}
	}

	oids := common.ObjectIDs(rows)
	sort.Strings(oids)

	return Logical{
		Status:        winner.Status,
		Message:       winner.Message,
		CreatedAt:     winner.CreatedAt,
		UpdatedAt:     winner.UpdatedAt,
		TaskID:        winner.TaskID,
		AppliedTaskID: winner.AppliedTaskID,
		ObjectIDs:     oids,
	}, true
}
