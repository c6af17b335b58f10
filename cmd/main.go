package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"weconnect/internal/app/client"
	"weconnect/internal/app/server"
	"weconnect/internal/app/worker"
	"weconnect/internal/config"
	"weconnect/internal/core/contracts"
	"weconnect/internal/core/services"
	"weconnect/internal/platform/logger"
	"weconnect/internal/platform/telemetry"
	"weconnect/internal/plugins/identity"
	natsPlugin "weconnect/internal/plugins/nats"
	"weconnect/internal/plugins/postgres"
	redisPlugin "weconnect/internal/plugins/redis"
	"weconnect/internal/plugins/s3"
	"weconnect/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
	}
	defer func() {
		if otelShutdown == nil {
			return
		}
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	if cfg.SecretToken == "" {
		log.Error("JWT_SECRET is required")
		return
	}

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", logging.Err(err))
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")
	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(pdb, log); err != nil {
			log.Error("postgres migration failed", logging.Err(err))
			return
		}
	}

	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	var feed contracts.ChangeFeed
	switch cfg.Feed.Driver {
	case "nats":
		nc, err := natsPlugin.Connect(*cfg.NATS, log)
		if err != nil {
			log.Error("nats connection failed", "url", cfg.NATS.URL, logging.Err(err))
			return
		}
		defer nc.Drain()
		feed = natsPlugin.NewChangeFeed(nc, log)
		log.Info("nats connected")
	default:
		feed = redisPlugin.NewChangeFeed(rdb, log)
	}

	blobs, err := s3.NewBlobStore(ctx, *cfg.Storage, log)
	if err != nil {
		log.Error("blob store init failed", logging.Err(err))
		return
	}

	// Adapters
	tx := postgres.NewTxManager(pdb)
	profileRepo := postgres.NewProfileRepo(pdb, feed)
	directoryRepo := postgres.NewDirectoryRepo(pdb, tx, feed)
	transcriptRepo := postgres.NewTranscriptRepo(pdb, feed)
	accountRepo := postgres.NewAccountRepo(pdb)
	broadcast := redisPlugin.NewPresenceBroadcast(rdb, log)
	provider := identity.NewProvider(log, accountRepo, identity.NewTokenService(cfg.SecretToken, cfg.TokenTTL))

	// Core Services
	session := services.NewIdentitySession(log, provider)
	uploads := services.NewUploadGateway(log, blobs, cfg.Upload.MaxBytes)
	tracker := services.NewPresenceTracker(log, broadcast, cfg.Presence.Heartbeat, cfg.Presence.LeaseTTL)
	profiles := services.NewProfileStore(log, profileRepo, directoryRepo, uploads, tracker, session)
	directory := services.NewDirectoryService(log, profileRepo, directoryRepo, transcriptRepo, tracker, feed, cfg.Directory.ProfileCacheSize)
	transcripts := services.NewTranscriptEngine(log, profileRepo, directoryRepo, transcriptRepo, uploads, feed, cfg.Directory.ProfileCacheSize)
	members := services.NewMembershipManager(log, profileRepo, directoryRepo, transcriptRepo, cfg.Directory.SearchLimit)

	c := client.New(log, session, profiles, tracker, directory, transcripts, members, nil)
	c.Start(ctx)
	defer c.Stop()

	// Workers
	reaper := worker.NewPresenceReaper(log, broadcast, cfg.Presence.SweepInterval)
	go func() {
		if err := reaper.Run(ctx); err != nil {
			log.Error("presence reaper stopped", logging.Err(err))
		}
	}()

	// Server
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Add, cfg.Service.OpsToken)
	srv.AddCheck("postgres", pdb.PingContext)
	srv.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	srv.AddCheck("storage", blobs.Health)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("ops server failed", logging.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", logging.Err(err))
	}
}
