package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker takes the local lock first and then the primary while the
// primary is healthy. When the primary errors the holder keeps only the
// local lock; the primary is retried once recoveryInterval passed.
type FailoverLocker struct {
	primary   Locker
	local     Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	// primaryHeld is only touched by the holder of the local lock.
	primaryHeld atomic.Bool
}

func NewFailoverLocker(primary, local Locker, logger *zerolog.Logger) *FailoverLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLocker{
		primary: primary,
		local:   local,
		logger:  logger,
	}
}

func (l *FailoverLocker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.local.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	l.primaryHeld.Store(false)

	if l.isDown.Load() && time.Since(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		l.isDown.Store(false)
	}
	if l.isDown.Load() {
		return true, nil
	}

	ok, err = l.primary.Acquire(ctx)
	switch {
	case err != nil:
		l.logger.Error().Err(err).Msg("primary locker failed, holding local lock only")
		l.isDown.Store(true)
		l.lastCheck.Store(time.Now().UnixNano())
		return true, nil
	case !ok:
		// Another process holds the shared lock.
		if rerr := l.local.Release(ctx); rerr != nil {
			return false, rerr
		}
		return false, nil
	}
	l.primaryHeld.Store(true)
	return true, nil
}

func (l *FailoverLocker) Release(ctx context.Context) error {
	var primaryErr error
	if l.primaryHeld.Swap(false) {
		if primaryErr = l.primary.Release(ctx); primaryErr != nil {
			l.logger.Error().Err(primaryErr).Msg("primary locker release failed")
		}
	}
	if err := l.local.Release(ctx); err != nil {
		return err
	}
	return primaryErr
}
