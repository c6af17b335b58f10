package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

// PresencePath is the broadcast path of a user's status.
func PresencePath(userID string) string {
	return "status/" + userID
}

// PresenceTracker publishes and observes online status on the broadcast.
type PresenceTracker struct {
	log       *slog.Logger
	broadcast contracts.PresenceBroadcast
	heartbeat time.Duration
	leaseTTL  time.Duration
	now       func() time.Time
}

func NewPresenceTracker(log *slog.Logger, broadcast contracts.PresenceBroadcast, heartbeat, leaseTTL time.Duration) *PresenceTracker {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if leaseTTL < heartbeat {
		leaseTTL = heartbeat + heartbeat/2
	}
	return &PresenceTracker{
		log:       log,
		broadcast: broadcast,
		heartbeat: heartbeat,
		leaseTTL:  leaseTTL,
		now:       time.Now,
	}
}

func (t *PresenceTracker) PublishPresence(ctx context.Context, userID string, online bool) error {
	if userID == "" {
		return domain.Validation("presence.Publish", domain.ErrInvalidUserID)
	}
	status := domain.PresenceStatus{Online: online, LastSeen: t.now()}
	if err := t.broadcast.Publish(ctx, PresencePath(userID), status); err != nil {
		t.log.WarnContext(ctx, "presence - publish - failed", logging.Principal(userID), logging.Err(err))
		return domain.Transient("presence.Publish", err)
	}
	return nil
}

// SubscribePresence reports every later status change of userID.
func (t *PresenceTracker) SubscribePresence(ctx context.Context, userID string, fn func(online bool)) (domain.Disposer, error) {
	dispose, err := t.broadcast.Subscribe(ctx, PresencePath(userID), func(s domain.PresenceStatus) {
		fn(s.Online)
	})
	if err != nil {
		return nil, domain.Transient("presence.Subscribe", err)
	}
	return dispose, nil
}

// IsOnline reads the current status. Read failures count as offline.
func (t *PresenceTracker) IsOnline(ctx context.Context, userID string) bool {
	s, err := t.broadcast.Get(ctx, PresencePath(userID))
	if err != nil {
		t.log.DebugContext(ctx, "presence - get - failed", logging.Principal(userID), logging.Err(err))
		return false
	}
	return s.Online
}

// Start registers the offline write for a lost connection, publishes online
// and renews the lease until the returned disposer runs. The disposer is the
// graceful sign-out path.
func (t *PresenceTracker) Start(ctx context.Context, userID string) (domain.Disposer, error) {
	if userID == "" {
		return nil, domain.Validation("presence.Start", domain.ErrInvalidUserID)
	}
	path := PresencePath(userID)
	if err := t.broadcast.OnDisconnectSet(ctx, path, domain.PresenceStatus{Online: false}, t.leaseTTL); err != nil {
		return nil, domain.Transient("presence.Start", err)
	}
	if err := t.PublishPresence(ctx, userID, true); err != nil {
		_ = t.broadcast.CancelOnDisconnect(ctx, path)
		return nil, err
	}

	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := t.broadcast.Renew(hbCtx, path, t.leaseTTL); err != nil {
					t.log.WarnContext(hbCtx, "presence - heartbeat - renew failed", logging.Principal(userID), logging.Err(err))
				}
			}
		}
	}()

	t.log.InfoContext(ctx, "presence - start - online", logging.Principal(userID))

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := t.broadcast.CancelOnDisconnect(stopCtx, path); err != nil {
				t.log.WarnContext(stopCtx, "presence - stop - cancel lease failed", logging.Principal(userID), logging.Err(err))
			}
			if err := t.PublishPresence(stopCtx, userID, false); err != nil {
				t.log.WarnContext(stopCtx, "presence - stop - offline publish failed", logging.Principal(userID), logging.Err(err))
				return
			}
			t.log.InfoContext(stopCtx, "presence - stop - offline", logging.Principal(userID))
		})
	}, nil
}
