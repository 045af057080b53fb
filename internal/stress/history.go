package stress

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/anishathalye/porcupine"
	"github.com/go-ricrob/spinmutex/guarded"
	"github.com/sirupsen/logrus"
)

// maxHistory bounds the recorded operations, checking is exponential in the
// worst case.
const maxHistory = 1 << 14

type registerOp uint8

const (
	opGet registerOp = iota
	opSet
	opAdd
)

type registerInput struct {
	Op    registerOp
	Value int
}

type registerOutput struct {
	Value int
}

// registerModel is an int register supporting get, set and add. Add returns
// the new value.
var registerModel = porcupine.Model{
	Init: func() interface{} { return 0 },
	Step: func(state, input, output interface{}) (bool, interface{}) {
		st := state.(int)
		in := input.(registerInput)
		out := output.(registerOutput)
		switch in.Op {
		case opGet:
			return out.Value == st, st
		case opSet:
			return true, in.Value
		default:
			st += in.Value
			return out.Value == st, st
		}
	},
	DescribeOperation: func(input, output interface{}) string {
		in := input.(registerInput)
		out := output.(registerOutput)
		switch in.Op {
		case opGet:
			return fmt.Sprintf("get() -> %d", out.Value)
		case opSet:
			return fmt.Sprintf("set(%d)", in.Value)
		default:
			return fmt.Sprintf("add(%d) -> %d", in.Value, out.Value)
		}
	},
}

// linearize records a porcupine history of register operations on one cell.
// Call and return times come from a shared logical clock: an operation that
// returned before another was called always has the smaller timestamps.
type linearize struct {
	cfg        Config
	iterations int
	cell       *guarded.Cell[int]
	clock      atomic.Int64
	histories  [][]porcupine.Operation // by worker
}

func newLinearize(cfg Config) Runner {
	iterations := cfg.Iterations
	if total := cfg.Workers * cfg.Rounds * iterations; total > maxHistory {
		iterations = maxHistory / (cfg.Workers * cfg.Rounds)
		if iterations < 1 {
			iterations = 1
		}
		cfg.logger().WithFields(logrus.Fields{"iterations": iterations, "requested": cfg.Iterations}).Warn("history too long, reducing iterations")
	}
	return &linearize{
		cfg:        cfg,
		iterations: iterations,
		cell:       guarded.New(0),
		histories:  make([][]porcupine.Operation, cfg.Workers),
	}
}

func (l *linearize) apply(in registerInput, rec *recorder) registerOutput {
	start := time.Now()
	g := l.cell.Lock()
	defer g.Unlock()
	rec.since(start)

	v := g.Value()
	switch in.Op {
	case opSet:
		*v = in.Value
	case opAdd:
		*v += in.Value
	}
	return registerOutput{Value: *v}
}

func (l *linearize) work(ctx context.Context, no, round int, rec *recorder) int {
	r := rand.New(rand.NewSource(l.cfg.Seed + int64(round*l.cfg.Workers+no)))
	n := 0
	for ; n < l.iterations && ctx.Err() == nil; n++ {
		in := registerInput{Op: registerOp(r.Intn(3)), Value: r.Intn(100)}
		op := porcupine.Operation{ClientId: no, Input: in, Call: l.clock.Add(1)}
		op.Output = l.apply(in, rec)
		op.Return = l.clock.Add(1)
		l.histories[no] = append(l.histories[no], op)
	}
	return n
}

func (l *linearize) Run(ctx context.Context) Resulter {
	numOp, samples, err := rounds(ctx, l.cfg, l.cfg.Workers, l.work, nil)
	res := &linearizeResult{result: newResult("linearize", numOp, samples, err)}
	if err != nil {
		return res
	}

	var ops []porcupine.Operation
	for _, h := range l.histories {
		ops = append(ops, h...)
	}
	check, info := porcupine.CheckOperationsVerbose(registerModel, ops, l.cfg.Timeout)
	res.visualize = func(w io.Writer) error { return porcupine.Visualize(registerModel, info, w) }
	switch check {
	case porcupine.Ok:
	case porcupine.Unknown:
		res.err = fmt.Errorf("%w: checking %d operations", ErrTimeout, len(ops))
	default:
		res.err = fmt.Errorf("%w: %d operations", ErrNotLinearizable, len(ops))
	}
	return res
}

type linearizeResult struct {
	*result
	visualize func(w io.Writer) error
}

// Visualize writes porcupine's HTML rendering of the checked history.
func (r *linearizeResult) Visualize(w io.Writer) error {
	if r.visualize == nil {
		return fmt.Errorf("no history checked: %v", r.err)
	}
	return r.visualize(w)
}
