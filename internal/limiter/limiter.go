// internal/limiter/limiter.go - Bound on concurrently running tile fetches
package limiter

import (
	"context"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// Limiter hands out a fixed number of fetch slots. The interactive loader
// uses TryAcquire and sheds tiles that find no slot; batch jobs block in Acquire.
type Limiter struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

// New creates a limiter with max slots; max < 1 is raised to 1
func New(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// TryAcquire takes a slot if one is free
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Inc()
	return true
}

// Acquire blocks until a slot is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Inc()
	return nil
}

// Release returns a slot. Every successful acquire must be released exactly once.
func (l *Limiter) Release() {
	l.inFlight.Dec()
	l.sem.Release(1)
}

// InFlight returns the number of slots currently taken
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Max returns the number of slots
func (l *Limiter) Max() int64 {
	return l.max
}
