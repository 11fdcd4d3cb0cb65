package syncer

import (
	"context"
	"errors"
	"time"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// SyncRunner is a guarded sync entry point.
type SyncRunner interface {
	Run(ctx context.Context) (*models.SyncResult, error)
}

// AutoSyncer triggers sync runs periodically and on demand. After failed
// runs the pause grows by the retry policy's backoff until a run succeeds
// again.
type AutoSyncer struct {
	runner   SyncRunner
	interval time.Duration
	policy   RetryPolicy
	logger   *zerolog.Logger
	trigger  chan struct{}
	failures int
}

func NewAutoSyncer(runner SyncRunner, interval time.Duration, policy RetryPolicy, logger *zerolog.Logger) *AutoSyncer {
	if interval <= 0 {
		interval = models.DefaultAutoSyncInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AutoSyncer{
		runner:   runner,
		interval: interval,
		policy:   policy,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a run as soon as possible. Requests made while one is
// already pending are coalesced.
func (a *AutoSyncer) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is cancelled.
func (a *AutoSyncer) Start(ctx context.Context) {
	a.logger.Info().Dur("interval", a.interval).Msg("auto sync started")

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("auto sync stopped")
			return
		case <-timer.C:
			timer.Reset(a.runOnce(ctx))
		case <-a.trigger:
			timer.Stop()
			timer.Reset(a.runOnce(ctx))
		}
	}
}

// runOnce performs one guarded run and returns the pause before the next.
func (a *AutoSyncer) runOnce(ctx context.Context) time.Duration {
	res, err := a.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		a.logger.Debug().Msg("auto sync skipped, run in progress")
		return a.interval
	case errors.Is(err, ErrOffline):
		a.failures++
		a.logger.Debug().Int("failures", a.failures).Msg("auto sync skipped, offline")
	case err != nil:
		a.failures++
		a.logger.Error().Err(err).Int("failures", a.failures).Msg("auto sync failed")
	case res != nil && !res.Success:
		a.failures++
		a.logger.Warn().Int("failed_items", res.FailedItems).Msg("auto sync finished with failures")
	default:
		a.failures = 0
	}

	if a.failures == 0 {
		return a.interval
	}
	return a.interval + a.policy.NextDelay(a.failures)
}
