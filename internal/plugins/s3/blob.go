// Package s3 stores uploaded images in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	"weconnect/internal/config"
	"weconnect/internal/core/domain"
)

type BlobStore struct {
	client   *s3.Client
	bucket   string
	prefix   string
	baseURL  string
	log      *slog.Logger
	disabled bool
	now      func() time.Time
}

func NewBlobStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*BlobStore, error) {
	b := &BlobStore{
		bucket:  strings.TrimSpace(cfg.Bucket),
		prefix:  strings.Trim(cfg.KeyPrefix, "/"),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:     log,
		now:     time.Now,
	}
	accessKey := strings.TrimSpace(cfg.AccessKeyID)
	secretKey := strings.TrimSpace(cfg.SecretAccessKey)
	if b.bucket == "" || accessKey == "" || secretKey == "" {
		log.Warn("s3 - init - bucket or credentials not set, uploads disabled")
		b.disabled = true
		return b, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	b.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	if b.baseURL == "" {
		b.baseURL = defaultBaseURL(cfg)
	}
	return b, nil
}

func defaultBaseURL(cfg config.StorageConfig) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// objectKey lays objects out as <prefix>/yyyy/mm/dd/<ulid><ext>.
func (b *BlobStore) objectKey(ext string) string {
	now := b.now().UTC()
	name := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String() + ext
	key := now.Format("2006/01/02") + "/" + name
	if b.prefix != "" {
		key = b.prefix + "/" + key
	}
	return key
}

func (b *BlobStore) Put(ctx context.Context, data []byte, contentType, ext string) (string, error) {
	if b.disabled {
		return "", domain.ErrStorageDisabled
	}
	key := b.objectKey(ext)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	b.log.DebugContext(ctx, "s3 - put - stored", "key", key, "size", len(data))
	return b.baseURL + "/" + key, nil
}

// Health performs a HeadBucket request. A disabled store reports healthy.
func (b *BlobStore) Health(ctx context.Context) error {
	if b.disabled {
		return nil
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}
