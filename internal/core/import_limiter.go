package core

// import_limiter.go caps the number of CSV imports validated at once.
//
// Validation performs several directory lookups per row, so a burst of large
// uploads can exhaust the connection pool. Slots are handed out through a
// buffered channel; callers that cannot get one within maxWait receive
// ErrTooManyImports. WaitForDrain lets shutdown wait for running imports.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyImports is returned when no import slot frees up in time.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

const (
	DefaultMaxConcurrentImports = 3
	DefaultImportWaitTime       = 30 * time.Second
)

// ImportLimiter is a counting semaphore for import runs.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewImportLimiter allows at most maxConcurrent imports; non-positive values use the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultImportWaitTime
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, maxWait elapses or ctx is done.
// Every successful Acquire must be paired with Release.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManyImports
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *ImportLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of imports holding a slot.
func (l *ImportLimiter) Active() int {
	return int(l.active.Load())
}

// Capacity returns the configured maximum.
func (l *ImportLimiter) Capacity() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no import holds a slot or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
