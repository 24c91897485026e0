package scanning

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/netsweep/internal/errors"
)

// ResourceManager is the admission gate that bounds concurrent probes.
type ResourceManager interface {
	// Acquire blocks until a slot is free for id or ctx is done.
	Acquire(ctx context.Context, id string) error

	// Release frees the slot held by id. Releasing an unknown id is a no-op.
	Release(id string)

	// GetActive returns the number of held slots.
	GetActive() int

	// GetAvailableSlots returns the number of free slots.
	GetAvailableSlots() int

	// Peak returns the highest number of slots held at once.
	Peak() int

	// IsHealthy returns true until the manager is closed.
	IsHealthy() bool

	// Close rejects further acquisitions.
	Close() error
}

// FixedResourceManager implements ResourceManager with a weighted semaphore.
type FixedResourceManager struct {
	capacity int
	sem      *semaphore.Weighted
	active   map[string]time.Time
	peak     int
	mutex    sync.RWMutex
	closed   bool
}

// NewFixedResourceManager creates a gate with capacity slots. Capacity
// below one is treated as one.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		active:   make(map[string]time.Time),
	}
}

// Acquire implements ResourceManager.
func (rm *FixedResourceManager) Acquire(ctx context.Context, id string) error {
	rm.mutex.RLock()
	closed := rm.closed
	rm.mutex.RUnlock()
	if closed {
		return errors.NewScanError(errors.CodeServiceUnavailable, "resource manager is closed")
	}

	if err := rm.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if _, held := rm.active[id]; held {
		// one slot per id
		rm.sem.Release(1)
		return nil
	}
	rm.active[id] = time.Now()
	if n := len(rm.active); n > rm.peak {
		rm.peak = n
	}
	return nil
}

// Release implements ResourceManager.
func (rm *FixedResourceManager) Release(id string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.active[id]; exists {
		delete(rm.active, id)
		rm.sem.Release(1)
	}
}

// GetActive implements ResourceManager.
func (rm *FixedResourceManager) GetActive() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return len(rm.active)
}

// GetAvailableSlots implements ResourceManager.
func (rm *FixedResourceManager) GetAvailableSlots() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.capacity - len(rm.active)
}

// Peak implements ResourceManager.
func (rm *FixedResourceManager) Peak() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.peak
}

// IsHealthy implements ResourceManager.
func (rm *FixedResourceManager) IsHealthy() bool {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return !rm.closed
}

// Close implements ResourceManager. Held slots stay valid and may still be
// released.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rm.closed = true
	return nil
}

// GetStats returns a snapshot of the gate.
func (rm *FixedResourceManager) GetStats() map[string]interface{} {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return map[string]interface{}{
		"capacity":        rm.capacity,
		"active":          len(rm.active),
		"available_slots": rm.capacity - len(rm.active),
		"peak":            rm.peak,
		"closed":          rm.closed,
	}
}
