package main

import (
	"context"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/conflict"
	"tasksync/internal/database"
	"tasksync/internal/events"
	"tasksync/internal/lock"
	"tasksync/internal/logging"
	"tasksync/internal/remote"
	"tasksync/internal/service"
	"tasksync/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer

	db     *database.DB
	redis  *redis.Client
	bus    *events.EventBus
	tasks  *service.TaskService
	probe  *syncer.Probe
	runner *syncer.Runner
	policy syncer.RetryPolicy
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: *baseLogger, closer: closer}

	dbLogger := logging.Component(baseLogger, "database")
	a.db, err = database.NewDB(cfg.Database.Path, dbLogger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	a.redis = initRedis(ctx, cfg.Redis, &a.logger)
	a.bus = events.NewEventBus(logging.Component(baseLogger, "events"))

	tieBreak, err := conflict.ParseTieBreak(cfg.Sync.TieBreak)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.policy = syncer.RetryPolicy{
		MaxRetries:    cfg.Sync.MaxRetries,
		InitialDelay:  cfg.Sync.RetryInitialDelay,
		MaxDelay:      cfg.Sync.RetryMaxDelay,
		BackoffFactor: 2,
	}

	syncLogger := logging.Component(baseLogger, "sync")
	client := remote.NewClient(cfg.Remote)
	resolver := conflict.NewResolver(tieBreak, syncLogger)

	orchestrator := syncer.NewOrchestrator(a.db, client, resolver, a.policy, cfg.Sync.BatchSize, syncLogger)
	if a.redis != nil {
		orchestrator.WithDeadLetter(syncer.NewRedisDeadLetter(a.redis, cfg.Redis.DeadLetterKey))
	}

	a.probe = syncer.NewProbe(client, cfg.Remote.ProbeTimeout, syncLogger)
	a.runner = syncer.NewRunner(orchestrator, a.probe, a.newLocker(), syncLogger).WithEvents(a.bus)
	a.tasks = service.NewTaskService(a.db, a.bus, cfg.Sync.MaxRetries, logging.Component(baseLogger, "tasks"))

	return a, nil
}

// newLocker always guards runs in-process and adds the redis lock shared
// across processes when redis is up.
func (a *app) newLocker() lock.Locker {
	memory := lock.NewMemoryLocker()
	if a.redis == nil {
		return memory
	}
	primary := lock.NewRedisLocker(a.redis, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL)
	return lock.NewFailoverLocker(primary, memory, logging.Component(&a.logger, "lock"))
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}

	client := lock.NewRedisClient(cfg)
	if err := lock.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = lock.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return client
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = lock.Close(a.redis)
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}
