// Package nats carries the change feed over core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"weconnect/internal/config"
	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

const subjectPrefix = "weconnect.changes."

func Connect(cfg config.NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("weconnect"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats - connection - disconnected", logging.Err(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats - connection - reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats - connection - async error", "subject", subject, logging.Err(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// subjectFor maps a feed topic such as "userchats/u1" onto a NATS subject.
// Slashes become dots so the subject hierarchy mirrors the topic path.
func subjectFor(topic string) string {
	return subjectPrefix + strings.ReplaceAll(topic, "/", ".")
}

type ChangeFeed struct {
	nc  *nats.Conn
	log *slog.Logger
}

func NewChangeFeed(nc *nats.Conn, log *slog.Logger) *ChangeFeed {
	return &ChangeFeed{nc: nc, log: log}
}

func (f *ChangeFeed) Publish(_ context.Context, topic string, payload []byte) error {
	return f.nc.Publish(subjectFor(topic), payload)
}

func (f *ChangeFeed) Subscribe(ctx context.Context, topic string, handler func(context.Context, []byte)) (domain.Disposer, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := f.nc.Subscribe(subjectFor(topic), func(msg *nats.Msg) {
		if subCtx.Err() != nil {
			return
		}
		handler(subCtx, msg.Data)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Unsubscribe(); err != nil {
				f.log.Warn("nats feed - unsubscribe - failed", "topic", topic, logging.Err(err))
			}
		})
	}, nil
}
