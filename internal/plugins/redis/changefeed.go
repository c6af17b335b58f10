package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"weconnect/internal/core/domain"
)

const changePrefix = "changes:"

// ChangeFeed carries document change notifications over Redis pub/sub.
type ChangeFeed struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewChangeFeed(rdb *redis.Client, log *slog.Logger) *ChangeFeed {
	return &ChangeFeed{rdb: rdb, log: log}
}

func (f *ChangeFeed) Publish(ctx context.Context, topic string, payload []byte) error {
	return f.rdb.Publish(ctx, changePrefix+topic, payload).Err()
}

// Subscribe runs handler on a background goroutine for every message until
// the disposer is called.
func (f *ChangeFeed) Subscribe(ctx context.Context, topic string, handler func(context.Context, []byte)) (domain.Disposer, error) {
	pubsub := f.rdb.Subscribe(ctx, changePrefix+topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			if subCtx.Err() != nil {
				return
			}
			handler(subCtx, []byte(msg.Payload))
		}
	}()
	f.log.Debug("redis feed - subscribe - listening", "topic", topic)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}
