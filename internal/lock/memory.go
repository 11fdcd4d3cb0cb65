package lock

import (
	"context"
	"sync"
)

// MemoryLocker is a process-local lock.
type MemoryLocker struct {
	mu   sync.Mutex
	held bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

func (l *MemoryLocker) Acquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}
