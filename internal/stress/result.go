package stress

import (
	"io"
	"time"

	"golang.org/x/exp/slices"
)

// Resulter is the outcome of a run.
type Resulter interface {
	Name() string
	NumOp() int
	Latency() Latency
	// Err returns nil if the run finished and its invariant holds.
	Err() error
}

// Visualizer is implemented by results that can render their history.
type Visualizer interface {
	Visualize(w io.Writer) error
}

var (
	_ Resulter   = (*result)(nil)
	_ Resulter   = (*linearizeResult)(nil)
	_ Visualizer = (*linearizeResult)(nil)
)

// Latency summarizes the time spent waiting for locks.
type Latency struct {
	Samples       int
	P50, P99, Max time.Duration
}

func newLatency(samples []time.Duration) Latency {
	if len(samples) == 0 {
		return Latency{}
	}
	slices.Sort(samples)
	n := len(samples)
	return Latency{
		Samples: n,
		P50:     samples[n*50/100],
		P99:     samples[n*99/100],
		Max:     samples[n-1],
	}
}

// recorder collects lock wait times of a single worker.
type recorder struct {
	samples []time.Duration
}

func (r *recorder) since(start time.Time) {
	r.samples = append(r.samples, time.Since(start))
}

type result struct {
	name    string
	numOp   int
	latency Latency
	err     error
}

func newResult(name string, numOp int, samples []time.Duration, err error) *result {
	return &result{name: name, numOp: numOp, latency: newLatency(samples), err: err}
}

func (r *result) Name() string     { return r.name }
func (r *result) NumOp() int       { return r.numOp }
func (r *result) Latency() Latency { return r.latency }
func (r *result) Err() error       { return r.err }
