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

package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

const (
	condNotExists = "attribute_not_exists(pk)"
	condTaskID    = "task_id = :tid"
)

// txn accumulates the items of one guarded transaction.
type txn struct {
	table  string
	guard  common.Guard
	items  []types.TransactWriteItem
	events []common.ChangeEvent
}

// condition returns the guard condition for an existing or new row.
func (t *txn) condition(exists bool) (*string, map[string]types.AttributeValue) {
	if !t.guard.Enabled() {
		return nil, nil
	}
	if !exists {
		return aws.String(condNotExists), nil
	}
	return aws.String(condTaskID), map[string]types.AttributeValue{
		":tid": &types.AttributeValueMemberS{Value: t.guard.TaskID()},
	}
}

func keyOf(r common.Row) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: r.Key().String()},
		"sk": &types.AttributeValueMemberS{Value: r.ObjectID},
	}
}

func (t *txn) put(r common.Row, exists bool, op common.ChangeOp) error {
	av, err := attributevalue.MarshalMap(toItem(r))
	if err != nil {
		return err
	}
	cond, values := t.condition(exists)
	t.items = append(t.items, types.TransactWriteItem{Put: &types.Put{
		TableName:                 aws.String(t.table),
		Item:                      av,
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	}})
	t.events = append(t.events, common.ChangeEvent{Op: op, Row: r})
	return nil
}

func (t *txn) delete(r common.Row) {
	cond, values := t.condition(true)
	t.items = append(t.items, types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(t.table),
		Key:                       keyOf(r),
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	}})
	t.events = append(t.events, common.ChangeEvent{Op: common.ChangeRemove, Row: r})
}

// check pins an existing row the transaction does not otherwise touch.
func (t *txn) check(r common.Row) {
	if !t.guard.Enabled() {
		return
	}
	cond, values := t.condition(true)
	t.items = append(t.items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 aws.String(t.table),
		Key:                       keyOf(r),
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	}})
}

func (s *Store) commit(ctx context.Context, op string, t *txn) error {
	if len(t.items) == 0 {
		return nil
	}
	if len(t.items) > maxTransactItems {
		return fmt.Errorf("%s: %w", op, ErrTooManyRows)
	}
	_, err := s.svc.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: t.items})
	if err != nil {
		if isConditionFailure(err) {
			return common.ErrConditionFailed
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, ev := range t.events {
		s.sink.Publish(ev)
	}
	return nil
}

func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// begin reads the group and evaluates the guard on the snapshot.
func (s *Store) begin(ctx context.Context, key common.GroupKey, guard common.Guard) ([]common.Row, *txn, error) {
	existing, err := s.GetRows(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if !guard.Holds(existing) {
		return nil, nil, common.ErrConditionFailed
	}
	return existing, &txn{table: s.table, guard: guard}, nil
}

// PutRows replaces the group with rows.
func (s *Store) PutRows(ctx context.Context, key common.GroupKey, rows []common.Row, guard common.Guard) error {
	existing, t, err := s.begin(ctx, key, guard)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		present[r.ObjectID] = struct{}{}
	}
	keep := make(map[string]struct{}, len(rows))
	for _, r := range common.MergeCreatedAt(existing, rows) {
		r.DeviceID, r.LogServiceID = key.DeviceID, key.LogServiceID
		_, exists := present[r.ObjectID]
		op := common.ChangeInsert
		if exists {
			op = common.ChangeModify
		}
		if err := t.put(r, exists, op); err != nil {
			return fmt.Errorf("put rows: %w", err)
		}
		keep[r.ObjectID] = struct{}{}
	}
	for _, r := range existing {
		if _, ok := keep[r.ObjectID]; !ok {
			t.delete(r)
		}
	}
	return s.commit(ctx, "put rows", t)
}

// DeleteRows removes objectIDs from the group, or the whole group when empty.
func (s *Store) DeleteRows(ctx context.Context, key common.GroupKey, objectIDs []string, guard common.Guard) error {
	existing, t, err := s.begin(ctx, key, guard)
	if err != nil {
		return err
	}

	targets := make(map[string]struct{}, len(objectIDs))
	for _, oid := range objectIDs {
		targets[oid] = struct{}{}
	}
	for _, r := range existing {
		if _, ok := targets[r.ObjectID]; len(objectIDs) == 0 || ok {
			t.delete(r)
		} else {
			t.check(r)
		}
	}
	if len(t.events) == 0 {
		return nil
	}
	return s.commit(ctx, "delete rows", t)
}

// UpdateStatus applies upd to every row of the group.
func (s *Store) UpdateStatus(ctx context.Context, key common.GroupKey, upd common.StatusUpdate, guard common.Guard) error {
	if err := s.ready(); err != nil {
		return err
	}
	existing, err := s.GetRows(ctx, key)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return common.ErrRecordNotFound
	}
	if !guard.Holds(existing) {
		return common.ErrConditionFailed
	}
	t := &txn{table: s.table, guard: guard}

	kept, dropped := upd.Apply(existing, common.Now())
	for _, r := range kept {
		if err := t.put(r, true, common.ChangeModify); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
	}
	for _, r := range dropped {
		t.delete(r)
	}
	return s.commit(ctx, "update status", t)
}
