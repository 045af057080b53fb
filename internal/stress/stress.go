// Package stress implements workloads checking the spinlock and guarded
// cells under contention.
package stress

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	ErrUnknownWorkload = errors.New("unknown workload")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrMismatch        = errors.New("invariant violated")
	ErrTimeout         = errors.New("timeout")
	ErrNotLinearizable = errors.New("history not linearizable")
)

// Config parametrizes a workload.
type Config struct {
	Workers    int           // concurrent goroutines
	Iterations int           // operations per worker and round
	Rounds     int           // number of rounds
	Keys       int           // key space of the partmap workload
	Parts      int           // partitions of the partmap workload
	Timeout    time.Duration // deadline of a whole run, 0 for none
	Seed       int64
	Logger     logrus.FieldLogger
}

// DefaultConfig returns the configuration used by the command line tool.
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		Iterations: 10000,
		Rounds:     4,
		Keys:       1024,
		Parts:      64,
		Timeout:    time.Minute,
		Seed:       1,
		Logger:     logrus.StandardLogger(),
	}
}

// Validate checks that all counts are positive.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers %d < 1", ErrInvalidConfig, c.Workers)
	case c.Iterations < 1:
		return fmt.Errorf("%w: iterations %d < 1", ErrInvalidConfig, c.Iterations)
	case c.Rounds < 1:
		return fmt.Errorf("%w: rounds %d < 1", ErrInvalidConfig, c.Rounds)
	case c.Keys < 1:
		return fmt.Errorf("%w: keys %d < 1", ErrInvalidConfig, c.Keys)
	case c.Parts < 1:
		return fmt.Errorf("%w: parts %d < 1", ErrInvalidConfig, c.Parts)
	case c.Timeout < 0:
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// Runner runs a workload.
type Runner interface {
	Run(ctx context.Context) Resulter
}

var workloads = map[string]func(cfg Config) Runner{
	"counter":   newCounter,
	"pingpong":  newPingPong,
	"release":   newRelease,
	"partmap":   newPartMap,
	"linearize": newLinearize,
}

// Names returns the sorted workload names.
func Names() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New returns the runner of workload name.
func New(name string, cfg Config) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, ok := workloads[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkload, name)
	}
	return f(cfg), nil
}

// worker runs the operations of one worker in one round and returns the
// number of completed operations.
type worker func(ctx context.Context, no, round int, rec *recorder) int

type nextRound struct {
	wg    *sync.WaitGroup
	round int
}

// rounds drives numWorker goroutines through cfg.Rounds rounds. A round ends
// when every worker is done with it; afterRound then runs with no worker
// active. It stops early when ctx is done.
func rounds(ctx context.Context, cfg Config, numWorker int, work worker, afterRound func(round int)) (int, []time.Duration, error) {
	log := cfg.logger()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	workerWg := new(sync.WaitGroup)
	workerWg.Add(numWorker)

	numOps := make([]int, numWorker)
	recs := make([]*recorder, numWorker)
	nextRoundChs := make([]chan *nextRound, numWorker)
	for i := 0; i < numWorker; i++ {
		recs[i] = new(recorder)
		nextRoundChs[i] = make(chan *nextRound, 1)
		go func(no int, nextRoundCh <-chan *nextRound) {
			defer workerWg.Done()
			for next := range nextRoundCh {
				numOps[no] += work(ctx, no, next.round, recs[no])
				next.wg.Done()
			}
		}(i, nextRoundChs[i])
	}

	var err error
	for round := 0; round < cfg.Rounds; round++ {
		start := time.Now()
		nextRoundWg := new(sync.WaitGroup)
		nextRoundWg.Add(numWorker)
		for _, nextRoundCh := range nextRoundChs {
			nextRoundCh <- &nextRound{wg: nextRoundWg, round: round}
		}
		// wait for round to be finalized
		nextRoundWg.Wait()

		if ctx.Err() != nil {
			err = fmt.Errorf("%w: round %d: %v", ErrTimeout, round, ctx.Err())
			break
		}
		if afterRound != nil {
			afterRound(round)
		}
		log.WithFields(logrus.Fields{"round": round, "elapsed": time.Since(start)}).Debug("round done")
	}

	for _, nextRoundCh := range nextRoundChs {
		close(nextRoundCh)
	}
	workerWg.Wait()

	numOp := 0
	var samples []time.Duration
	for i := range numOps {
		numOp += numOps[i]
		samples = append(samples, recs[i].samples...)
	}
	return numOp, samples, err
}
