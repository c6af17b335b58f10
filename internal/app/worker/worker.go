package worker

import (
	"context"
	"log/slog"
	"time"

	"weconnect/internal/core/contracts"
	"weconnect/internal/platform/metrics"
	"weconnect/pkg/logging"
)

// PresenceReaper performs the pending offline writes of presence leases that
// were not renewed, which is how an ungraceful disconnect becomes visible.
type PresenceReaper struct {
	log       *slog.Logger
	broadcast contracts.PresenceBroadcast
	interval  time.Duration
}

func NewPresenceReaper(log *slog.Logger, broadcast contracts.PresenceBroadcast, interval time.Duration) *PresenceReaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PresenceReaper{
		log:       log,
		broadcast: broadcast,
		interval:  interval,
	}
}

// Run sweeps on every tick until ctx is done.
func (w *PresenceReaper) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - presence reaper - started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "worker - presence reaper - stopped")
			return nil
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

func (w *PresenceReaper) SweepOnce(ctx context.Context) int {
	n, err := w.broadcast.Sweep(ctx)
	if n > 0 {
		metrics.PresenceSweeps.Add(float64(n))
		w.log.InfoContext(ctx, "worker - presence reaper - leases expired", "count", n)
	}
	if err != nil {
		w.log.ErrorContext(ctx, "worker - presence reaper - sweep failed", logging.Err(err))
	}
	return n
}
