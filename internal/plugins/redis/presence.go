package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"weconnect/internal/core/domain"
)

const (
	presencePrefix  = "presence:"
	leasesKey       = "presence:leases"
	onDisconnectKey = "presence:ondisconnect"
)

/*
	presence:{path}        last published value (JSON)
	presence:{path}        pub/sub channel carrying every change
	presence:leases        ZSET path -> lease deadline (unix ms)
	presence:ondisconnect  HASH path -> value written when the lease expires
*/

type PresenceBroadcast struct {
	rdb *redis.Client
	log *slog.Logger
	now func() time.Time
}

func NewPresenceBroadcast(rdb *redis.Client, log *slog.Logger) *PresenceBroadcast {
	return &PresenceBroadcast{rdb: rdb, log: log, now: time.Now}
}

func presenceKey(path string) string {
	return presencePrefix + path
}

func encodeStatus(s domain.PresenceStatus) (string, error) {
	raw, err := json.Marshal(s)
	return string(raw), err
}

func decodeStatus(raw string) (domain.PresenceStatus, error) {
	var s domain.PresenceStatus
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}

func (p *PresenceBroadcast) Publish(ctx context.Context, path string, status domain.PresenceStatus) error {
	raw, err := encodeStatus(status)
	if err != nil {
		return err
	}
	key := presenceKey(path)
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, 0)
		pipe.Publish(ctx, key, raw)
		return nil
	})
	return err
}

func (p *PresenceBroadcast) Get(ctx context.Context, path string) (domain.PresenceStatus, error) {
	raw, err := p.rdb.Get(ctx, presenceKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PresenceStatus{}, nil
	}
	if err != nil {
		return domain.PresenceStatus{}, err
	}
	return decodeStatus(raw)
}

// Subscribe delivers changes from a background goroutine until disposed.
func (p *PresenceBroadcast) Subscribe(ctx context.Context, path string, fn func(domain.PresenceStatus)) (domain.Disposer, error) {
	pubsub := p.rdb.Subscribe(ctx, presenceKey(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			s, err := decodeStatus(msg.Payload)
			if err != nil {
				p.log.Warn("redis presence - subscribe - bad payload", "path", path, "err", err)
				continue
			}
			fn(s)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

func (p *PresenceBroadcast) OnDisconnectSet(ctx context.Context, path string, status domain.PresenceStatus, ttl time.Duration) error {
	raw, err := encodeStatus(status)
	if err != nil {
		return err
	}
	deadline := p.now().Add(ttl).UnixMilli()
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, onDisconnectKey, path, raw)
		pipe.ZAdd(ctx, leasesKey, redis.Z{Score: float64(deadline), Member: path})
		return nil
	})
	return err
}

// Renew pushes the deadline of an existing lease. Missing leases stay missing.
func (p *PresenceBroadcast) Renew(ctx context.Context, path string, ttl time.Duration) error {
	deadline := p.now().Add(ttl).UnixMilli()
	return p.rdb.ZAddXX(ctx, leasesKey, redis.Z{Score: float64(deadline), Member: path}).Err()
}

func (p *PresenceBroadcast) CancelOnDisconnect(ctx context.Context, path string) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, leasesKey, path)
		pipe.HDel(ctx, onDisconnectKey, path)
		return nil
	})
	return err
}

// Sweep performs the pending write of every expired lease. ZREM decides which
// reaper owns a lease, so concurrent sweeps never write twice.
func (p *PresenceBroadcast) Sweep(ctx context.Context) (int, error) {
	now := p.now()
	due, err := p.rdb.ZRangeByScore(ctx, leasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, path := range due {
		removed, err := p.rdb.ZRem(ctx, leasesKey, path).Result()
		if err != nil {
			return swept, err
		}
		if removed == 0 {
			continue
		}
		raw, err := p.rdb.HGet(ctx, onDisconnectKey, path).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return swept, err
		}
		_ = p.rdb.HDel(ctx, onDisconnectKey, path).Err()

		status, err := decodeStatus(raw)
		if err != nil {
			p.log.Warn("redis presence - sweep - bad value", "path", path, "err", err)
			continue
		}
		if status.LastSeen.IsZero() {
			status.LastSeen = now
		}
		if err := p.Publish(ctx, path, status); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
