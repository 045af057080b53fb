package stress

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-ricrob/spinmutex/internal/partmap"
	"github.com/pingcap/go-ycsb/pkg/generator"
	"github.com/sirupsen/logrus"
)

// partMap counts updates of zipfian distributed keys in a partitioned map,
// so a few hot partitions see most of the contention. Keys seen for the
// first time in a round are collected in a second map and swapped in
// after the round.
type partMap struct {
	cfg    Config
	counts *partmap.Map[int]
	seen   *partmap.Map[int] // round of first update
}

func newPartMap(cfg Config) Runner {
	return &partMap{
		cfg:    cfg,
		counts: partmap.New[int](uint64(cfg.Parts)),
		seen:   partmap.New[int](uint64(cfg.Parts)),
	}
}

func (p *partMap) work(ctx context.Context, no, round int, rec *recorder) int {
	r := rand.New(rand.NewSource(p.cfg.Seed + int64(round*p.cfg.Workers+no)))
	// scrambled zipfian to ensure hot keys are spread over partitions
	z := generator.NewScrambledZipfian(0, int64(p.cfg.Keys-1), generator.ZipfianConstant)

	n := 0
	for ; n < p.cfg.Iterations && ctx.Err() == nil; n++ {
		key := strconv.FormatInt(z.Next(r), 10)
		start := time.Now()
		p.counts.Update(key, func(v *int) { *v++ })
		rec.since(start)
		p.seen.StoreTarget(key, round)
	}
	return n
}

func (p *partMap) afterRound(round int) {
	p.seen.Swap()
	fresh := 0
	for i := 0; i < p.seen.NumPart(); i++ {
		fresh += len(p.seen.Source(i))
	}
	p.cfg.logger().WithFields(logrus.Fields{"round": round, "newKeys": fresh, "keys": p.seen.Size()}).Debug("partmap round")
}

func (p *partMap) Run(ctx context.Context) Resulter {
	numOp, samples, err := rounds(ctx, p.cfg, p.cfg.Workers, p.work, p.afterRound)
	if err == nil {
		sum := 0
		p.counts.Range(func(_ string, v int) bool {
			sum += v
			return true
		})
		switch {
		case sum != numOp:
			err = fmt.Errorf("%w: %d counted updates, want %d", ErrMismatch, sum, numOp)
		case p.counts.Size() != p.seen.Size():
			err = fmt.Errorf("%w: %d counted keys, %d seen keys", ErrMismatch, p.counts.Size(), p.seen.Size())
		case p.counts.Size() > p.cfg.Keys:
			err = fmt.Errorf("%w: %d keys out of a key space of %d", ErrMismatch, p.counts.Size(), p.cfg.Keys)
		}
	}
	return newResult("partmap", numOp, samples, err)
}
