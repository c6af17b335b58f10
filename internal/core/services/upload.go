package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/internal/platform/metrics"
	"weconnect/pkg/logging"
)

var uploadTracer = otel.Tracer("upload-gateway")

var allowedImages = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadGateway validates image uploads and hands them to the blob store.
type UploadGateway struct {
	log      *slog.Logger
	blobs    contracts.BlobStore
	maxBytes int64
}

func NewUploadGateway(log *slog.Logger, blobs contracts.BlobStore, maxBytes int64) *UploadGateway {
	return &UploadGateway{log: log, blobs: blobs, maxBytes: maxBytes}
}

// Store uploads data and returns its permanent url.
func (g *UploadGateway) Store(ctx context.Context, data []byte) (string, error) {
	ctx, span := uploadTracer.Start(ctx, "UploadGateway.Store")
	defer span.End()
	span.SetAttributes(attribute.Int("upload.bytes", len(data)))

	fail := func(result string, err error) (string, error) {
		metrics.Uploads.WithLabelValues(result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return "", domain.Upload("upload.Store", err)
	}

	if len(data) == 0 {
		return fail("rejected", domain.ErrEmptyUpload)
	}
	if g.maxBytes > 0 && int64(len(data)) > g.maxBytes {
		return fail("rejected", fmt.Errorf("%w: %d > %d bytes", domain.ErrUploadTooLarge, len(data), g.maxBytes))
	}

	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedImages[mimeType]
	if !ok {
		return fail("rejected", fmt.Errorf("%w: %s", domain.ErrUnsupportedContentType, mimeType))
	}

	url, err := g.blobs.Put(ctx, data, mimeType, ext)
	if err != nil {
		g.log.ErrorContext(ctx, "upload - store - blob put failed", slog.String("mime", mimeType), logging.Err(err))
		return fail("failed", err)
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.UploadBytes.Observe(float64(len(data)))
	g.log.DebugContext(ctx, "upload - store - success", slog.String("mime", mimeType), slog.Int("bytes", len(data)))
	return url, nil
}
