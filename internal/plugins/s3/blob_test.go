package s3

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/config"
	"weconnect/internal/core/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDisabledWithoutCredentials(t *testing.T) {
	b, err := NewBlobStore(context.Background(), config.StorageConfig{Bucket: "media"}, discard())
	require.NoError(t, err)

	_, err = b.Put(context.Background(), []byte{1}, "image/png", ".png")
	assert.ErrorIs(t, err, domain.ErrStorageDisabled)
	assert.NoError(t, b.Health(context.Background()))
}

func TestObjectKey(t *testing.T) {
	b := &BlobStore{prefix: "uploads", now: func() time.Time { return time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC) }}
	key := b.objectKey(".png")
	assert.Regexp(t, regexp.MustCompile(`^uploads/2024/03/07/[0-9A-Z]{26}\.png$`), key)

	b.prefix = ""
	assert.Regexp(t, regexp.MustCompile(`^2024/03/07/[0-9A-Z]{26}\.jpg$`), b.objectKey(".jpg"))
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000/media",
		defaultBaseURL(config.StorageConfig{Endpoint: "http://minio:9000/", Bucket: "media"}))
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com",
		defaultBaseURL(config.StorageConfig{Bucket: "media", Region: "eu-west-1"}))
}
