package contracts

import "context"

// BlobStore keeps uploaded files and hands back a permanent url.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType, ext string) (string, error)
	Health(ctx context.Context) error
}
