// Package spinlock provides a test-and-test-and-set spinlock mutex.
package spinlock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	free int32 = 0
	held int32 = 1
)

const (
	activeSpin = 32 // loads before yielding the processor
	maxBackoff = 16 // upper bound of yields per spin round
)

var _ sync.Locker = (*Mutex)(nil)

// Mutex represents a spinlock. The zero value is an unlocked mutex.
//
// A Mutex is not associated with a particular goroutine: the lock may be
// released by a goroutine other than the one that acquired it, and an
// Unlock of an unlocked Mutex is not detected.
type Mutex struct {
	state atomic.Int32
}

// Lock locks the mutex busy waiting (spinlock).
//
// Only the swap needs exclusive access to the cache line, so while the
// mutex is held Lock polls with plain loads and retries the swap once the
// mutex is seen free.
func (m *Mutex) Lock() {
	for m.state.Swap(held) == held {
		m.wait()
	}
}

func (m *Mutex) wait() {
	backoff := 1
	for spins := 0; m.state.Load() == held; spins++ {
		if spins < activeSpin {
			continue
		}
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff <<= 1
		}
		spins = 0
	}
}

// TryLock tries to lock the mutex without spinning and reports whether it succeeded.
func (m *Mutex) TryLock() bool { return m.state.CompareAndSwap(free, held) }

// Unlock unlocks the mutex.
func (m *Mutex) Unlock() { m.state.Store(free) }

func (m *Mutex) String() string {
	if m.state.Load() == held {
		return "Locked"
	}
	return "Unlocked"
}
