package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/config"
	"weconnect/internal/core/domain"
)

func TestStatusCodec(t *testing.T) {
	in := domain.PresenceStatus{Online: true, LastSeen: time.UnixMilli(1_700_000_000_123).UTC()}
	raw, err := encodeStatus(in)
	require.NoError(t, err)
	assert.Contains(t, raw, `"online":true`)

	out, err := decodeStatus(raw)
	require.NoError(t, err)
	assert.True(t, in.LastSeen.Equal(out.LastSeen))
	assert.True(t, out.Online)

	_, err = decodeStatus("not json")
	assert.Error(t, err)
}

func TestPresenceKey(t *testing.T) {
	assert.Equal(t, "presence:status/u1", presenceKey("status/u1"))
}

func TestApplyPoolConfig(t *testing.T) {
	opts, err := goredis.ParseURL("redis://localhost:6379/2?pool_size=7")
	require.NoError(t, err)

	applyPoolConfig(opts, config.RedisConfig{DialTimeout: time.Second, MinIdleConns: 3})
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, 3, opts.MinIdleConns)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2, opts.DB)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "parse redis url")
}
