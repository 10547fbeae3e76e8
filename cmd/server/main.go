// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/auth"
	"github.com/duomatch/lobby-coordinator/internal/broadcaster"
	"github.com/duomatch/lobby-coordinator/internal/config"
	"github.com/duomatch/lobby-coordinator/internal/connectionhub"
	"github.com/duomatch/lobby-coordinator/internal/core"
	"github.com/duomatch/lobby-coordinator/internal/countdown"
	"github.com/duomatch/lobby-coordinator/internal/eventsink"
	"github.com/duomatch/lobby-coordinator/internal/httpapi"
	"github.com/duomatch/lobby-coordinator/internal/lobby"
	"github.com/duomatch/lobby-coordinator/internal/matchmaking"
	"github.com/duomatch/lobby-coordinator/internal/persistence"
	"github.com/duomatch/lobby-coordinator/internal/playerdirectory"
)

const queuePruneMaxAge = time.Hour

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()
	ctx := context.Background()

	pool := connectPostgres(ctx, logger, cfg)
	sink := buildEventSink(ctx, logger, cfg)
	directory := buildPlayerDirectory(pool)
	persist := buildPersistence(pool, logger)

	b := broadcaster.New(logger)
	cd := countdown.New(nil)

	registry := lobby.New(logger, b, cd, sink, directory, persist, lobby.Config{
		CountdownSeconds: int(cfg.CountdownDuration.Seconds()),
		PostGameGrace:    cfg.PostGameGrace,
		CodeLength:       cfg.CodeLength,
		MaxPlayers:       cfg.MaxPlayers,
	})

	queue := matchmaking.New(logger, directory, registry, registry, sink, matchmaking.Config{
		ETASecondsPerPair: cfg.QueueETASeconds,
	})
	registry.SetQueue(queue)

	go runQueuePruner(ctx, logger, queue)

	hub := connectionhub.New(logger, b, registry)

	verifier, err := auth.New(72 * time.Hour)
	if err != nil {
		logger.WithError(err).Fatal("main: failed to initialize JWT verifier")
	}

	server := httpapi.New(logger, registry, queue, hub, verifier)

	logger.WithField("addr", cfg.HTTPAddr).Info("lobby coordinator listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, server.Routes()); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

// connectPostgres opens the optional persistence pool shared by the
// player directory and the lobby mirror. Returns nil if no DSN is
// configured or the connection attempt fails - per spec.md §3 the core
// must run fully in-memory either way.
func connectPostgres(ctx context.Context, logger *logrus.Logger, cfg config.Config) *pgxpool.Pool {
	if cfg.PostgresDSN == "" {
		return nil
	}
	pool, err := persistence.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.WithError(err).Warn("main: postgres unavailable, running fully in-memory")
		return nil
	}
	return pool
}

func buildEventSink(ctx context.Context, logger *logrus.Logger, cfg config.Config) core.EventSink {
	if cfg.RedisAddr == "" {
		return eventsink.NewLogSink(logger)
	}
	client, err := eventsink.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.WithError(err).Warn("main: redis unavailable, event sink falling back to log-only")
		return eventsink.NewLogSink(logger)
	}
	return eventsink.NewRedisSink(ctx, logger, eventsink.AdaptClient(client), "")
}

func buildPlayerDirectory(pool *pgxpool.Pool) *playerdirectory.Fallback {
	if pool == nil {
		return &playerdirectory.Fallback{}
	}
	return &playerdirectory.Fallback{Inner: playerdirectory.NewPostgres(pool)}
}

func buildPersistence(pool *pgxpool.Pool, logger *logrus.Logger) core.Persistence {
	if pool == nil {
		return persistence.Noop{}
	}
	return persistence.NewPostgres(pool, logger)
}

func runQueuePruner(ctx context.Context, logger *logrus.Logger, queue *matchmaking.Queue) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		removed := queue.PruneExpired(ctx, queuePruneMaxAge)
		if removed > 0 {
			logger.WithField("removed", removed).Info("main: pruned expired matchmaking queue entries")
		}
	}
}
