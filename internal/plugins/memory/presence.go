package memory

import (
	"context"
	"sync"
	"time"

	"weconnect/internal/core/domain"
)

type lease struct {
	deadline time.Time
	value    domain.PresenceStatus
}

// Presence is an in-process presence broadcast with on-disconnect leases.
type Presence struct {
	mu     sync.Mutex
	now    func() time.Time
	values map[string]domain.PresenceStatus
	leases map[string]lease
	subs   map[string]map[int]func(domain.PresenceStatus)
	nextID int
}

func NewPresence() *Presence {
	return &Presence{
		now:    time.Now,
		values: make(map[string]domain.PresenceStatus),
		leases: make(map[string]lease),
		subs:   make(map[string]map[int]func(domain.PresenceStatus)),
	}
}

// SetClock replaces the clock used for lease deadlines.
func (p *Presence) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Presence) Publish(_ context.Context, path string, status domain.PresenceStatus) error {
	p.mu.Lock()
	p.values[path] = status
	handlers := make([]func(domain.PresenceStatus), 0, len(p.subs[path]))
	for _, h := range p.subs[path] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(status)
	}
	return nil
}

func (p *Presence) Get(_ context.Context, path string) (domain.PresenceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[path], nil
}

func (p *Presence) Subscribe(_ context.Context, path string, fn func(domain.PresenceStatus)) (domain.Disposer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	if p.subs[path] == nil {
		p.subs[path] = make(map[int]func(domain.PresenceStatus))
	}
	p.subs[path][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[path], id)
		})
	}, nil
}

func (p *Presence) OnDisconnectSet(_ context.Context, path string, status domain.PresenceStatus, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leases[path] = lease{deadline: p.now().Add(ttl), value: status}
	return nil
}

func (p *Presence) Renew(_ context.Context, path string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.leases[path]; ok {
		l.deadline = p.now().Add(ttl)
		p.leases[path] = l
	}
	return nil
}

func (p *Presence) CancelOnDisconnect(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leases, path)
	return nil
}

func (p *Presence) Sweep(ctx context.Context) (int, error) {
	p.mu.Lock()
	now := p.now()
	due := make(map[string]domain.PresenceStatus)
	for path, l := range p.leases {
		if !l.deadline.After(now) {
			due[path] = l.value
			delete(p.leases, path)
		}
	}
	p.mu.Unlock()
	for path, v := range due {
		if v.LastSeen.IsZero() {
			v.LastSeen = now
		}
		_ = p.Publish(ctx, path, v)
	}
	return len(due), nil
}

// Leases returns the number of pending on-disconnect writes.
func (p *Presence) Leases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}
