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

// Package dynamodb provides a record store on Amazon DynamoDB.
//
// Rows live in one table keyed by pk = "device#service" and sk = object id.
// Every write is a single TransactWriteItems call whose items carry the
// guard as condition expressions, so a concurrent writer cancels the whole
// transaction.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

// maxTransactItems is the DynamoDB limit on items per transaction.
const maxTransactItems = 100

// ErrTooManyRows is returned when a group write exceeds one transaction.
var ErrTooManyRows = errors.New("group exceeds transaction item limit")

// API is the subset of the DynamoDB client used by the store.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// item is the stored form of a row.
type item struct {
	PK            string `dynamodbav:"pk"`
	SK            string `dynamodbav:"sk"`
	DeviceID      string `dynamodbav:"device_id"`
	LogServiceID  string `dynamodbav:"log_service_id"`
	Status        int    `dynamodbav:"status"`
	Message       string `dynamodbav:"message"`
	TaskID        string `dynamodbav:"task_id"`
	AppliedTaskID string `dynamodbav:"applied_task_id"`
	CreatedAt     int64  `dynamodbav:"created_at"`
	UpdatedAt     int64  `dynamodbav:"updated_at"`
}

func toItem(r common.Row) item {
	return item{
		PK:            r.Key().String(),
		SK:            r.ObjectID,
		DeviceID:      r.DeviceID,
		LogServiceID:  r.LogServiceID,
		Status:        r.Status.Int(),
		Message:       r.Message,
		TaskID:        r.TaskID,
		AppliedTaskID: r.AppliedTaskID,
		CreatedAt:     r.CreatedAt.Unix(),
		UpdatedAt:     r.UpdatedAt.Unix(),
	}
}

func (it item) row() common.Row {
	return common.Row{
		DeviceID:      it.DeviceID,
		LogServiceID:  it.LogServiceID,
		ObjectID:      it.SK,
		Status:        common.StatusFromInt(it.Status),
		Message:       it.Message,
		TaskID:        it.TaskID,
		AppliedTaskID: it.AppliedTaskID,
		CreatedAt:     time.Unix(it.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(it.UpdatedAt, 0).UTC(),
	}
}

// Store is a record store on a DynamoDB table.
type Store struct {
	svc   API
	table string
	sink  common.ChangeSink
}

// New creates an unconfigured store.
func New() *Store {
	return &Store{sink: common.DiscardSink{}}
}

// NewWithClient creates a store on an existing client.
func NewWithClient(svc API, table string) *Store {
	return &Store{svc: svc, table: table, sink: common.DiscardSink{}}
}

// Configure sets up the backend with the necessary settings.
//
// Settings: table (required), region, endpoint, accessKey, secretKey.
func (s *Store) Configure(settings map[string]string) error {
	s.table = settings["table"]
	if s.table == "" {
		return common.ErrTableNotSet
	}

	ctx := context.TODO()
	var opts []func(*config.LoadOptions) error
	if region := settings["region"]; region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if ak, sk := settings["accessKey"], settings["secretKey"]; ak != "" && sk != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}
	if cfg.Region == "" {
		return common.ErrRegionNotSet
	}

	endpoint := settings["endpoint"]
	s.svc = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return nil
}

// SetChangeSink sets the sink that receives committed changes.
func (s *Store) SetChangeSink(sink common.ChangeSink) {
	if sink == nil {
		sink = common.DiscardSink{}
	}
	s.sink = sink
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func (s *Store) ready() error {
	if s.svc == nil || s.table == "" {
		return common.ErrNotConfigured
	}
	return nil
}

// GetRows returns the rows of a group sorted by object id.
func (s *Store) GetRows(ctx context.Context, key common.GroupKey) ([]common.Row, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	pk, err := attributevalue.Marshal(key.String())
	if err != nil {
		return nil, err
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": pk},
		ConsistentRead:            aws.Bool(true),
	}

	rows := []common.Row{}
	for {
		out, err := s.svc.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("get rows: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("get rows: %w", err)
		}
		for _, it := range items {
			rows = append(rows, it.row())
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	common.SortRows(rows)
	return rows, nil
}
