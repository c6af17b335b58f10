package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// BlobStore keeps uploads in memory and hands back mem:// urls.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// FailWith makes every later Put return err; nil restores normal behaviour.
func (b *BlobStore) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *BlobStore) Put(_ context.Context, data []byte, _ string, ext string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	key := ulid.Make().String() + ext
	b.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (b *BlobStore) Health(context.Context) error {
	return nil
}

// Objects returns the number of stored blobs.
func (b *BlobStore) Objects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
