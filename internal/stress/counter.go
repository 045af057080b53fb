package stress

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ricrob/spinmutex/guarded"
)

// counter increments one shared cell from every worker.
type counter struct {
	cfg  Config
	cell *guarded.Cell[int]
}

func newCounter(cfg Config) Runner { return &counter{cfg: cfg, cell: guarded.New(0)} }

func (c *counter) work(ctx context.Context, no, round int, rec *recorder) int {
	n := 0
	for ; n < c.cfg.Iterations && ctx.Err() == nil; n++ {
		start := time.Now()
		g := c.cell.Lock()
		rec.since(start)
		*g.Value() += 1
		g.Unlock()
	}
	return n
}

func (c *counter) Run(ctx context.Context) Resulter {
	numOp, samples, err := rounds(ctx, c.cfg, c.cfg.Workers, c.work, nil)
	if err == nil {
		g := c.cell.Lock()
		value := g.Get()
		g.Unlock()
		if want := c.cfg.Workers * c.cfg.Iterations * c.cfg.Rounds; value != want || value != numOp {
			err = fmt.Errorf("%w: counter %d, want %d (%d increments)", ErrMismatch, value, want, numOp)
		}
	}
	return newResult("counter", numOp, samples, err)
}
