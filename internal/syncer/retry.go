package syncer

import (
	"math"
	"time"

	"tasksync/internal/models"
)

// RetryPolicy bounds how often a queue item is retried and paces the
// background loop after failed runs with exponential backoff.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryDecision is the state of a queue item after one more failure.
type RetryDecision struct {
	RetryCount int
	Permanent  bool
}

func (r RetryPolicy) maxRetries() int {
	if r.MaxRetries <= 0 {
		return models.DefaultMaxRetries
	}
	return r.MaxRetries
}

// Evaluate returns the new retry count for an item that failed with
// retryCount previous failures, and whether the budget is exhausted.
func (r RetryPolicy) Evaluate(retryCount int) RetryDecision {
	next := retryCount + 1
	return RetryDecision{
		RetryCount: next,
		Permanent:  next >= r.maxRetries(),
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
