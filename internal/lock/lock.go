// Package lock provides the mutual exclusion that keeps sync runs from
// overlapping, across processes when redis is available.
package lock

import "context"

// Locker guards a single named critical section.
type Locker interface {
	// Acquire reports whether the lock was taken. It never blocks waiting
	// for a holder to release.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
