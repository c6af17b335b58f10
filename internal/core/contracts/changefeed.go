package contracts

import (
	"context"

	"weconnect/internal/core/domain"
)

// ChangeFeed carries document change notifications between clients.
// Stores publish on a topic after every successful write to the document.
type ChangeFeed interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe invokes handler for every later publish on topic until disposed.
	Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte)) (domain.Disposer, error)
}
