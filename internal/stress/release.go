package stress

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-ricrob/spinmutex/guarded"
)

type releaseMode int

const (
	releaseDeferred releaseMode = iota // deferred Unlock only
	releaseTwice                       // explicit Unlock, then deferred Unlock
	releaseCell                        // Cell.Unlock, then Guard.Unlock
	releaseDo                          // scoped Do
	releaseTryDo                       // TryDo until it succeeds
	releaseContext                     // LockContext, deferred Unlock
	numReleaseMode
)

// release mixes every way of ending a critical section. A guard releasing
// its cell more than once would let two holders in and lose increments.
type release struct {
	cfg  Config
	cell *guarded.Cell[int]
}

func newRelease(cfg Config) Runner { return &release{cfg: cfg, cell: guarded.New(0)} }

func (r *release) increment(ctx context.Context, mode releaseMode) bool {
	switch mode {
	case releaseDeferred:
		g := r.cell.Lock()
		defer g.Unlock()
		*g.Value() += 1
	case releaseTwice:
		g := r.cell.Lock()
		defer g.Unlock()
		*g.Value() += 1
		g.Unlock()
	case releaseCell:
		g := r.cell.Lock()
		*g.Value() += 1
		r.cell.Unlock(g)
		g.Unlock()
	case releaseDo:
		r.cell.Do(func(v *int) { *v += 1 })
	case releaseTryDo:
		for !r.cell.TryDo(func(v *int) { *v += 1 }) {
			if ctx.Err() != nil {
				return false
			}
		}
	case releaseContext:
		g, err := r.cell.LockContext(ctx)
		if err != nil {
			return false
		}
		defer g.Unlock()
		*g.Value() += 1
	}
	return true
}

func (r *release) work(ctx context.Context, no, round int, rec *recorder) int {
	rnd := rand.New(rand.NewSource(r.cfg.Seed + int64(round*r.cfg.Workers+no)))
	n := 0
	for i := 0; i < r.cfg.Iterations && ctx.Err() == nil; i++ {
		start := time.Now()
		if r.increment(ctx, releaseMode(rnd.Intn(int(numReleaseMode)))) {
			rec.since(start)
			n++
		}
	}
	return n
}

func (r *release) Run(ctx context.Context) Resulter {
	numOp, samples, err := rounds(ctx, r.cfg, r.cfg.Workers, r.work, nil)
	if err == nil {
		var value int
		r.cell.Do(func(v *int) { value = *v })
		if value != numOp {
			err = fmt.Errorf("%w: counter %d after %d critical sections", ErrMismatch, value, numOp)
		}
	}
	return newResult("release", numOp, samples, err)
}
