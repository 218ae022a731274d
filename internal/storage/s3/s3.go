// Package s3 provides a Store backed by an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/storage"
	"github.com/fruitsalade/assetgateway/internal/storage/awsutil"
)

// expiresMeta is the object metadata key holding the entry expiry in
// Unix nanoseconds. S3 lowercases user metadata keys.
const expiresMeta = "expires-at"

// Config holds S3 connection settings.
type Config struct {
	awsutil.Config
	Bucket string
	Prefix string
}

// Store implements storage.Store on S3/MinIO. Each entry is one object.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsutil.Load(ctx, cfg.Config)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	s := &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := s.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if _, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return storage.Entry{}, false, nil
		}
		return storage.Entry{}, false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	nanos, err := strconv.ParseInt(out.Metadata[expiresMeta], 10, 64)
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("get object %s: %w", key, storage.ErrCorruptEntry)
	}
	value, err := io.ReadAll(out.Body)
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("read object %s: %w", key, err)
	}
	return storage.Entry{Value: value, ExpiresAt: time.Unix(0, nanos)}, true, nil
}

// Put uploads value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + key),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			expiresMeta: strconv.FormatInt(expiresAt.UnixNano(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(value)))
	return nil
}

// Type returns "s3".
func (s *Store) Type() string {
	return "s3"
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}
