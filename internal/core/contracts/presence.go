package contracts

import (
	"context"
	"time"

	"weconnect/internal/core/domain"
)

// PresenceBroadcast is the realtime key-value service behind status/{userId}.
type PresenceBroadcast interface {
	// Publish writes the value under path and notifies subscribers.
	Publish(ctx context.Context, path string, status domain.PresenceStatus) error
	// Get returns the last published value; absent paths read as offline.
	Get(ctx context.Context, path string) (domain.PresenceStatus, error)
	// Subscribe delivers every later change. It never calls fn synchronously.
	Subscribe(ctx context.Context, path string, fn func(domain.PresenceStatus)) (domain.Disposer, error)
	// OnDisconnectSet registers a value written by the service when the lease
	// on path is not renewed within ttl.
	OnDisconnectSet(ctx context.Context, path string, status domain.PresenceStatus, ttl time.Duration) error
	// Renew extends the lease on path.
	Renew(ctx context.Context, path string, ttl time.Duration) error
	// CancelOnDisconnect drops the pending write for path.
	CancelOnDisconnect(ctx context.Context, path string) error
	// Sweep performs the pending writes of expired leases and returns how many ran.
	Sweep(ctx context.Context) (int, error)
}
