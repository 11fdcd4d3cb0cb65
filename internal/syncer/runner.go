package syncer

import (
	"context"
	"errors"
	"fmt"

	"tasksync/internal/events"
	"tasksync/internal/lock"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrOffline        = errors.New("remote is unreachable")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Syncer performs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncResult, error)
}

// Connectivity gates runs on remote reachability.
type Connectivity interface {
	CheckConnectivity(ctx context.Context) bool
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// Runner is the caller-side guard around a Syncer: it probes the remote
// first and makes sure only one run executes at a time.
type Runner struct {
	syncer Syncer
	probe  Connectivity
	locker lock.Locker
	events EventPublisher
	logger *zerolog.Logger
}

func NewRunner(s Syncer, probe Connectivity, locker lock.Locker, logger *zerolog.Logger) *Runner {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{syncer: s, probe: probe, locker: locker, logger: logger}
}

// WithEvents publishes an events.EventSyncCompleted event after every
// completed run.
func (r *Runner) WithEvents(p EventPublisher) *Runner {
	r.events = p
	return r
}

// Run returns ErrOffline when the probe fails and ErrSyncInProgress when
// another run holds the lock.
func (r *Runner) Run(ctx context.Context) (*models.SyncResult, error) {
	if r.probe != nil && !r.probe.CheckConnectivity(ctx) {
		return nil, ErrOffline
	}

	ok, err := r.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer func() {
		// The run's context may already be cancelled.
		if err := r.locker.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error().Err(err).Msg("release sync lock")
		}
	}()

	res, err := r.syncer.Sync(ctx)
	if err == nil && res != nil && r.events != nil {
		payload := events.SyncEventPayload{Success: res.Success, SyncedItems: res.SyncedItems, FailedItems: res.FailedItems}
		if perr := r.events.PublishJSON(events.EventSyncCompleted, payload); perr != nil {
			r.logger.Error().Err(perr).Msg("publish sync event")
		}
	}
	return res, err
}

// Online reports remote reachability; without a probe it assumes online.
func (r *Runner) Online(ctx context.Context) bool {
	if r.probe == nil {
		return true
	}
	return r.probe.CheckConnectivity(ctx)
}
