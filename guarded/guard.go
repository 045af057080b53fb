package guarded

import "sync/atomic"

// Guard grants access to the value of a locked Cell. It is created by a
// successful Lock or TryLock and released exactly once: the first Unlock
// unlocks the cell, later ones do nothing.
//
// A guard may not be used after it has been released.
//
// Guards are handed out as pointers so that copies share the released
// state. Every Lock, TryLock, Do and TryDo therefore allocates at most one
// Guard; use the raw spinlock where that matters.
type Guard[T any] struct {
	cell atomic.Pointer[Cell[T]] // nil once released
}

func newGuard[T any](c *Cell[T]) *Guard[T] {
	g := new(Guard[T])
	g.cell.Store(c)
	return g
}

func (g *Guard[T]) mustCell() *Cell[T] {
	c := g.cell.Load()
	if c == nil {
		panic("guarded: use of released guard")
	}
	return c
}

// Get returns a copy of the guarded value.
func (g *Guard[T]) Get() T { return g.mustCell().value }

// Set replaces the guarded value.
func (g *Guard[T]) Set(v T) { g.mustCell().value = v }

// Value returns a pointer to the guarded value. The pointer must not be
// used after the guard is released.
func (g *Guard[T]) Value() *T { return &g.mustCell().value }

// Unlock releases the guard and unlocks its cell. Calling Unlock on a
// released guard is a no-op, so an explicit Unlock may be combined with a
// deferred one.
func (g *Guard[T]) Unlock() {
	if g == nil {
		return
	}
	if c := g.cell.Swap(nil); c != nil {
		c.mu.Unlock()
	}
}

// Released reports whether the guard has been released.
func (g *Guard[T]) Released() bool { return g == nil || g.cell.Load() == nil }
