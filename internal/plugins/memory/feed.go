package memory

import (
	"context"
	"sync"

	"weconnect/internal/core/domain"
)

// Feed is an in-process change feed. Publish runs handlers on the caller's
// goroutine, after the feed lock is released.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(context.Context, []byte)
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[int]func(context.Context, []byte))}
}

func (f *Feed) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	handlers := make([]func(context.Context, []byte), 0, len(f.subs[topic]))
	for _, h := range f.subs[topic] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

func (f *Feed) Subscribe(_ context.Context, topic string, handler func(context.Context, []byte)) (domain.Disposer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]func(context.Context, []byte))
	}
	f.subs[topic][id] = handler
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[topic], id)
			if len(f.subs[topic]) == 0 {
				delete(f.subs, topic)
			}
		})
	}, nil
}

// Subscribers returns the number of handlers on topic.
func (f *Feed) Subscribers(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}
