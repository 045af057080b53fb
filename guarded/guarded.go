// Package guarded binds a value to a spinlock and hands out access to it
// only through a Guard, which exists while the lock is held.
//
// Typical use:
//
//	c := guarded.New(0)
//
//	g := c.Lock()
//	defer g.Unlock()
//	*g.Value() += 1
//
// A panic inside the critical section still releases the lock when the
// deferred Unlock runs, but the value is not marked as poisoned: the next
// holder observes whatever was written before the panic.
package guarded

import (
	"context"
	"runtime"

	"github.com/go-ricrob/spinmutex/spinlock"
)

// Cell holds a value of type T that may only be accessed while its
// spinlock is held. The zero value is an unlocked cell holding the zero T.
// A Cell must not be copied after first use.
type Cell[T any] struct {
	mu    spinlock.Mutex
	value T
}

// New returns an unlocked cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{value: v}
}

// Lock spins until the cell is locked and returns the guard of the new
// critical section.
func (c *Cell[T]) Lock() *Guard[T] {
	c.mu.Lock()
	return newGuard(c)
}

// TryLock locks the cell if it is free. It returns nil and false without
// spinning if the cell is held.
func (c *Cell[T]) TryLock() (*Guard[T], bool) {
	if !c.mu.TryLock() {
		return nil, false
	}
	return newGuard(c), true
}

// LockContext polls TryLock until the cell is locked or ctx is done.
func (c *Cell[T]) LockContext(ctx context.Context) (*Guard[T], error) {
	for {
		if g, ok := c.TryLock(); ok {
			return g, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Unlock releases the critical section of g, which must have been returned
// by c. It is the same as g.Unlock; a nil g is treated as released.
func (c *Cell[T]) Unlock(g *Guard[T]) {
	if g == nil {
		return
	}
	if p := g.cell.Load(); p != nil && p != c {
		panic("guarded: unlock of guard owned by another cell")
	}
	g.Unlock()
}

// Do runs f with exclusive access to the value.
func (c *Cell[T]) Do(f func(v *T)) {
	g := c.Lock()
	defer g.Unlock()
	f(g.Value())
}

// TryDo runs f with exclusive access to the value if the cell is free and
// reports whether f was run.
func (c *Cell[T]) TryDo(f func(v *T)) bool {
	g, ok := c.TryLock()
	if !ok {
		return false
	}
	defer g.Unlock()
	f(g.Value())
	return true
}

func (c *Cell[T]) String() string { return c.mu.String() }
