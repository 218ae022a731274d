// Package dynamodb provides a Store backed by a DynamoDB table.
//
// Table layout: partition key "key" (S), payload "data" (B), expiry
// "expires_ms" (N, Unix milliseconds) and "ttl" (N, Unix seconds) for
// DynamoDB's native TTL sweeper.
package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fruitsalade/assetgateway/internal/storage"
	"github.com/fruitsalade/assetgateway/internal/storage/awsutil"
)

const (
	attrKey     = "key"
	attrData    = "data"
	attrExpires = "expires_ms"
	attrTTL     = "ttl"
)

// Config holds DynamoDB connection settings.
type Config struct {
	awsutil.Config
	Table string
}

// Store implements storage.Store on DynamoDB.
type Store struct {
	client *dynamodb.Client
	table  string
}

// New creates a DynamoDB store. The table must already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name cannot be empty")
	}
	awsCfg, err := awsutil.Load(ctx, cfg.Config)
	if err != nil {
		return nil, err
	}

	s := &Store{client: dynamodb.NewFromConfig(awsCfg), table: cfg.Table}
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.Table),
	}); err != nil {
		return nil, fmt.Errorf("describe table %s: %w", cfg.Table, err)
	}
	return s, nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("get item %s: %w", key, err)
	}
	if out.Item == nil {
		return storage.Entry{}, false, nil
	}

	data, ok := out.Item[attrData].(*types.AttributeValueMemberB)
	if !ok {
		return storage.Entry{}, false, fmt.Errorf("get item %s: %w", key, storage.ErrCorruptEntry)
	}
	expires, ok := out.Item[attrExpires].(*types.AttributeValueMemberN)
	if !ok {
		return storage.Entry{}, false, fmt.Errorf("get item %s: %w", key, storage.ErrCorruptEntry)
	}
	ms, err := strconv.ParseInt(expires.Value, 10, 64)
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("get item %s: %w", key, storage.ErrCorruptEntry)
	}

	return storage.Entry{Value: data.Value, ExpiresAt: time.UnixMilli(ms)}, true, nil
}

// Put writes value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrKey:     &types.AttributeValueMemberS{Value: key},
			attrData:    &types.AttributeValueMemberB{Value: value},
			attrExpires: &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixMilli(), 10)},
			attrTTL:     &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

// Type returns "dynamodb".
func (s *Store) Type() string {
	return "dynamodb"
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
