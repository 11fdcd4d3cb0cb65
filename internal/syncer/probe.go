package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker performs the remote health request.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Probe answers whether the remote is reachable right now.
type Probe struct {
	checker HealthChecker
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewProbe(checker HealthChecker, timeout time.Duration, logger *zerolog.Logger) *Probe {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Probe{checker: checker, timeout: timeout, logger: logger}
}

// CheckConnectivity returns true only on a healthy answer within the timeout.
func (p *Probe) CheckConnectivity(ctx context.Context) bool {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.checker.Health(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("remote unreachable")
		return false
	}
	return true
}
