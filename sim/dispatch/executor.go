// Package dispatch assigns simulation runs to capacity-bounded executors.
//
// A Dispatcher owns a FIFO run queue and a fixed executor set. Runs are
// handed to the least-loaded executor with spare capacity; a periodic
// capacity check wakes the dispatcher when none is available.
package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Executor runs simulation runs up to a fixed concurrency limit.
//
// Invariant: Load() <= Capacity() at all times. Load is incremented only by a
// successful Submit and decremented when the run completes.
type Executor interface {
	Name() string
	// Submit starts runID asynchronously. Returns ErrInsufficientResources
	// (possibly wrapped) when the executor is at capacity.
	Submit(ctx context.Context, runID int64) error
	Load() int
	Capacity() int
}

// slots is the load accounting shared by every executor variant.
type slots struct {
	name     string
	capacity int

	mu   sync.Mutex
	load int
}

func newSlots(name string, capacity int) *slots {
	if capacity < 0 {
		panic(fmt.Sprintf("executor %s: capacity must be >= 0, got %d", name, capacity))
	}
	return &slots{name: name, capacity: capacity}
}

// Name returns the executor label.
func (s *slots) Name() string { return s.name }

// Capacity returns the maximum number of concurrent runs.
func (s *slots) Capacity() int { return s.capacity }

// Load returns the number of runs in flight.
func (s *slots) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load
}

// acquire reserves one slot, or returns ErrInsufficientResources.
func (s *slots) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.load >= s.capacity {
		return fmt.Errorf("%w: %s at capacity %d", ErrInsufficientResources, s.name, s.capacity)
	}
	s.load++
	return nil
}

func (s *slots) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.load == 0 {
		panic(fmt.Sprintf("executor %s: release without acquire", s.name))
	}
	s.load--
}
