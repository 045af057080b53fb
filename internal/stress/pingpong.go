package stress

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-ricrob/spinmutex/guarded"
)

const numPlayer = 2

type table struct {
	turn  int // player to move
	moves int
}

// pingPong lets two workers take turns through one cell. Each worker only
// moves when it is its turn, so both depend on the other acquiring the
// lock between their own acquisitions.
type pingPong struct {
	cfg  Config
	cell *guarded.Cell[table]
}

func newPingPong(cfg Config) Runner { return &pingPong{cfg: cfg, cell: guarded.New(table{})} }

func (p *pingPong) work(ctx context.Context, player, round int, rec *recorder) int {
	n := 0
	for n < p.cfg.Iterations {
		if ctx.Err() != nil {
			return n
		}
		start := time.Now()
		g := p.cell.Lock()
		t := g.Value()
		if t.turn != player {
			g.Unlock()
			// let the other player take the cell
			runtime.Gosched()
			continue
		}
		t.turn = (player + 1) % numPlayer
		t.moves++
		g.Unlock()
		rec.since(start)
		n++
	}
	return n
}

func (p *pingPong) Run(ctx context.Context) Resulter {
	numOp, samples, err := rounds(ctx, p.cfg, numPlayer, p.work, nil)
	if err == nil {
		var moves int
		p.cell.Do(func(t *table) { moves = t.moves })
		if want := numPlayer * p.cfg.Iterations * p.cfg.Rounds; moves != want {
			err = fmt.Errorf("%w: %d moves, want %d", ErrMismatch, moves, want)
		}
	}
	return newResult("pingpong", numOp, samples, err)
}
