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

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

const selectRows = `
	SELECT device_id, log_service_id, object_id, status, message,
	       task_id, applied_task_id, created_at, updated_at
	FROM subscription_rows
	WHERE device_id = ? AND log_service_id = ?
	ORDER BY object_id`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRows(ctx context.Context, q querier, key common.GroupKey) ([]common.Row, error) {
	rs, err := q.QueryContext(ctx, selectRows, key.DeviceID, key.LogServiceID)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	out := []common.Row{}
	for rs.Next() {
		var (
			r                common.Row
			status           int
			created, updated int64
		)
		if err := rs.Scan(&r.DeviceID, &r.LogServiceID, &r.ObjectID, &status, &r.Message,
			&r.TaskID, &r.AppliedTaskID, &created, &updated); err != nil {
			return nil, err
		}
		r.Status = common.StatusFromInt(status)
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, r)
	}
	return out, rs.Err()
}

// GetRows returns the rows of a group sorted by object id.
func (s *Store) GetRows(ctx context.Context, key common.GroupKey) ([]common.Row, error) {
	rows, err := loadRows(ctx, s.db, key)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	return rows, nil
}

// write runs fn inside a transaction after checking guard against the
// group's current rows. Events returned by fn are published after commit.
func (s *Store) write(ctx context.Context, op string, key common.GroupKey, guard common.Guard, mustExist bool,
	fn func(tx *sql.Tx, existing []common.Row) ([]common.ChangeEvent, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := loadRows(ctx, tx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if mustExist && len(existing) == 0 {
		return common.ErrRecordNotFound
	}
	if !guard.Holds(existing) {
		return common.ErrConditionFailed
	}

	events, err := fn(tx, existing)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	for _, ev := range events {
		s.sink.Publish(ev)
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, r common.Row) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_rows
		(device_id, log_service_id, object_id, status, message, task_id, applied_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, log_service_id, object_id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			task_id = excluded.task_id,
			applied_task_id = excluded.applied_task_id,
			updated_at = excluded.updated_at
	`,
		r.DeviceID, r.LogServiceID, r.ObjectID, r.Status.Int(), r.Message,
		r.TaskID, r.AppliedTaskID, r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	return err
}

func deleteObjects(ctx context.Context, tx *sql.Tx, key common.GroupKey, objectIDs []string) error {
	if len(objectIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(objectIDs)+2)
	args = append(args, key.DeviceID, key.LogServiceID)
	for _, oid := range objectIDs {
		args = append(args, oid)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(objectIDs)), ",")
	_, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_rows WHERE device_id = ? AND log_service_id = ? AND object_id IN (`+placeholders+`)`,
		args...)
	return err
}

// PutRows replaces the group with rows.
func (s *Store) PutRows(ctx context.Context, key common.GroupKey, rows []common.Row, guard common.Guard) error {
	return s.write(ctx, "put rows", key, guard, false, func(tx *sql.Tx, existing []common.Row) ([]common.ChangeEvent, error) {
		rows = common.MergeCreatedAt(existing, rows)
		keep := make(map[string]struct{}, len(rows))
		after := make([]common.Row, 0, len(rows))
		for _, r := range rows {
			r.DeviceID, r.LogServiceID = key.DeviceID, key.LogServiceID
			if err := upsertRow(ctx, tx, r); err != nil {
				return nil, err
			}
			keep[r.ObjectID] = struct{}{}
			after = append(after, r)
		}
		var stale []string
		for _, r := range existing {
			if _, ok := keep[r.ObjectID]; !ok {
				stale = append(stale, r.ObjectID)
			}
		}
		if err := deleteObjects(ctx, tx, key, stale); err != nil {
			return nil, err
		}
		common.SortRows(after)
		return common.DiffRows(existing, after), nil
	})
}

// DeleteRows removes objectIDs from the group, or the whole group when empty.
func (s *Store) DeleteRows(ctx context.Context, key common.GroupKey, objectIDs []string, guard common.Guard) error {
	return s.write(ctx, "delete rows", key, guard, false, func(tx *sql.Tx, existing []common.Row) ([]common.ChangeEvent, error) {
		targets := make(map[string]struct{}, len(objectIDs))
		for _, oid := range objectIDs {
			targets[oid] = struct{}{}
		}
		var (
			events []common.ChangeEvent
			ids    []string
		)
		for _, r := range existing {
			if _, ok := targets[r.ObjectID]; len(objectIDs) == 0 || ok {
				events = append(events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
				ids = append(ids, r.ObjectID)
			}
		}
		if err := deleteObjects(ctx, tx, key, ids); err != nil {
			return nil, err
		}
		return events, nil
	})
}

// UpdateStatus applies upd to every row of the group.
func (s *Store) UpdateStatus(ctx context.Context, key common.GroupKey, upd common.StatusUpdate, guard common.Guard) error {
	return s.write(ctx, "update status", key, guard, true, func(tx *sql.Tx, existing []common.Row) ([]common.ChangeEvent, error) {
		kept, dropped := upd.Apply(existing, common.Now())
		events := make([]common.ChangeEvent, 0, len(existing))
		for _, r := range kept {
			if err := upsertRow(ctx, tx, r); err != nil {
				return nil, err
			}
			events = append(events, common.ChangeEvent{Op: common.ChangeModify, Row: r})
		}
		if err := deleteObjects(ctx, tx, key, common.ObjectIDs(dropped)); err != nil {
			return nil, err
		}
		for _, r := range dropped {
			events = append(events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
		}
		return events, nil
	})
}
