package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/core/domain"
	"weconnect/internal/plugins/memory"
)

func TestSweepOncePublishesOffline(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	bc := memory.NewPresence()
	bc.SetClock(func() time.Time { return now })

	require.NoError(t, bc.OnDisconnectSet(ctx, "status/u1", domain.PresenceStatus{Online: false}, time.Minute))
	require.NoError(t, bc.Publish(ctx, "status/u1", domain.PresenceStatus{Online: true, LastSeen: now}))

	w := NewPresenceReaper(slog.New(slog.NewTextHandler(io.Discard, nil)), bc, time.Second)
	assert.Equal(t, 0, w.SweepOnce(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, w.SweepOnce(ctx))

	st, err := bc.Get(ctx, "status/u1")
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.True(t, st.LastSeen.Equal(now))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewPresenceReaper(slog.New(slog.NewTextHandler(io.Discard, nil)), memory.NewPresence(), time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
