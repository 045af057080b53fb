package guarded

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anishathalye/porcupine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedCounter(t *testing.T) {
	tests := []struct {
		numWorker, iterations int
	}{
		{2, 1000},
		{4, 5000},
		{16, 1000},
	}

	for _, test := range tests {
		c := New(0)
		var wg sync.WaitGroup
		wg.Add(test.numWorker)
		for i := 0; i < test.numWorker; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < test.iterations; j++ {
					g := c.Lock()
					*g.Value() += 1
					g.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, test.numWorker*test.iterations, c.Lock().Get())
	}
}

func TestZeroCell(t *testing.T) {
	var c Cell[string]
	g := c.Lock()
	assert.Equal(t, "", g.Get())
	g.Set("hello")
	g.Unlock()

	g = c.Lock()
	defer g.Unlock()
	assert.Equal(t, "hello", g.Get())
}

func TestTryLock(t *testing.T) {
	c := New(42)

	g, ok := c.TryLock()
	require.True(t, ok)
	require.NotNil(t, g)
	assert.Equal(t, "Locked", c.String())

	g2, ok := c.TryLock()
	assert.False(t, ok)
	assert.Nil(t, g2)
	assert.Equal(t, 42, g.Get(), "failed TryLock must not touch the held cell")
	g.Unlock()

	// held through the raw spinlock
	c.mu.Lock()
	_, ok = c.TryLock()
	assert.False(t, ok)
	assert.Equal(t, "Locked", c.String())
	c.mu.Unlock()

	g, ok = c.TryLock()
	require.True(t, ok)
	c.Unlock(g)
}

func TestReleaseReenablesLock(t *testing.T) {
	c := New(0)

	g := c.Lock()
	g.Unlock()
	g, ok := c.TryLock()
	require.True(t, ok)

	c.Unlock(g)
	g = c.Lock()
	g.Unlock()

	assert.True(t, c.TryDo(func(v *int) { *v = 1 }))
	assert.Equal(t, "Unlocked", c.String())
}

func TestGuardSingleRelease(t *testing.T) {
	c := New(0)

	g := c.Lock()
	g.Unlock()
	assert.True(t, g.Released())

	// Somebody else holds the cell now; releasing g again must not free it.
	other := c.Lock()
	g.Unlock()
	c.Unlock(g)
	_, ok := c.TryLock()
	assert.False(t, ok)
	other.Unlock()
}

func TestGuardUseAfterRelease(t *testing.T) {
	c := New(1)
	g := c.Lock()
	g.Unlock()

	assert.PanicsWithValue(t, "guarded: use of released guard", func() { g.Get() })
	assert.PanicsWithValue(t, "guarded: use of released guard", func() { g.Set(2) })
	assert.PanicsWithValue(t, "guarded: use of released guard", func() { g.Value() })
}

func TestUnlockForeignGuard(t *testing.T) {
	a, b := New(0), New(0)
	g := a.Lock()
	assert.Panics(t, func() { b.Unlock(g) })
	assert.False(t, g.Released())
	a.Unlock(g)
}

func TestDoReleasesOnPanic(t *testing.T) {
	c := New([]int{})

	assert.Panics(t, func() {
		c.Do(func(v *[]int) {
			*v = append(*v, 1)
			panic("abort critical section")
		})
	})

	// not poisoned: the partial update stays visible
	g, ok := c.TryLock()
	require.True(t, ok)
	defer g.Unlock()
	assert.Equal(t, []int{1}, g.Get())
}

func TestLockContext(t *testing.T) {
	c := New(0)
	held := c.Lock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, err := c.LockContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, g)

	held.Unlock()
	g, err = c.LockContext(context.Background())
	require.NoError(t, err)
	g.Unlock()
}

// Every write of a holder must be visible to the next one.
func TestReadAfterWrite(t *testing.T) {
	type pair struct{ a, b int }
	const iterations = 5000

	c := New(pair{})
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Do(func(p *pair) {
					if p.a != p.b {
						panic("torn update observed")
					}
					p.a++
					p.b++
				})
			}
		}()
	}
	wg.Wait()

	c.Do(func(p *pair) {
		assert.Equal(t, pair{2 * iterations, 2 * iterations}, *p)
	})
}

const numReleaseMode = 4

// increment enters one critical section on c and releases it the way mode
// selects.
func increment(c *Cell[int], mode int) {
	switch mode {
	case 0:
		g := c.Lock()
		defer g.Unlock()
		*g.Value() += 1
	case 1:
		g := c.Lock()
		defer g.Unlock()
		*g.Value() += 1
		g.Unlock()
	case 2:
		g := c.Lock()
		*g.Value() += 1
		c.Unlock(g)
		g.Unlock()
	case 3:
		for !c.TryDo(func(v *int) { *v += 1 }) {
			runtime.Gosched()
		}
	}
}

func TestMixedRelease(t *testing.T) {
	const (
		numWorker  = 8
		iterations = 2000
	)

	c := New(0)
	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)
	wg.Add(numWorker)
	for i := 0; i < numWorker; i++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < iterations; j++ {
				increment(c, r.Intn(numReleaseMode))
				done.Add(1)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, done.Load(), int64(c.Lock().Get()))
}

func FuzzMixedRelease(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3})
	f.Add([]byte{3, 3, 3, 3, 3, 3, 3, 3})
	f.Add([]byte{1, 2, 1, 2, 0, 0, 3, 1, 2})

	f.Fuzz(func(t *testing.T, modes []byte) {
		c := New(0)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, m := range modes {
				increment(c, int(m)%numReleaseMode)
			}
		}()
		go func() {
			defer wg.Done()
			for i := len(modes) - 1; i >= 0; i-- {
				increment(c, int(modes[i])%numReleaseMode)
			}
		}()
		wg.Wait()

		g, ok := c.TryLock()
		require.True(t, ok, "cell left locked")
		defer g.Unlock()
		assert.Equal(t, 2*len(modes), g.Get())
	})
}

// playPingPong lets two players take turns through one cell. A player
// finding the other's turn yields, or it would take the cell straight back.
func playPingPong(t *testing.T, rounds int) {
	c := New(0) // whose turn: 0 or 1
	finished := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	for player := 0; player < 2; player++ {
		go func(player int) {
			defer wg.Done()
			for n := 0; n < rounds; {
				moved := false
				c.Do(func(turn *int) {
					if *turn == player {
						*turn = 1 - player
						moved = true
					}
				})
				if !moved {
					runtime.Gosched()
					continue
				}
				n++
			}
		}(player)
	}
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(30 * time.Second):
		t.Fatal("ping-pong did not finish")
	}
}

func TestPingPong(t *testing.T) {
	playPingPong(t, 10000)
}

func TestPingPongSingleProc(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))
	playPingPong(t, 10000)
}

func TestNilGuard(t *testing.T) {
	c := New(0)
	var g *Guard[int]
	assert.True(t, g.Released())
	assert.NotPanics(t, func() { c.Unlock(g) })
	assert.NotPanics(t, func() { g.Unlock() })

	_, ok := c.TryLock()
	assert.True(t, ok, "unlocking a nil guard must not touch the cell")
}

func TestLockAllocs(t *testing.T) {
	c := New(0)
	allocs := testing.AllocsPerRun(1000, func() {
		g := c.Lock()
		*g.Value() += 1
		g.Unlock()
	})
	assert.LessOrEqual(t, allocs, float64(1))
}

type registerInput struct {
	set   bool
	value int
}

var registerModel = porcupine.Model{
	Init: func() interface{} { return 0 },
	Step: func(state, input, output interface{}) (bool, interface{}) {
		in := input.(registerInput)
		if in.set {
			return true, in.value
		}
		return output.(int) == state.(int), state
	},
}

func TestLinearizable(t *testing.T) {
	const (
		numClient  = 4
		iterations = 100
	)

	var (
		c     Cell[int]
		clock atomic.Int64
		wg    sync.WaitGroup
	)
	histories := make([][]porcupine.Operation, numClient)
	wg.Add(numClient)
	for i := 0; i < numClient; i++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)))
			for j := 0; j < iterations; j++ {
				op := porcupine.Operation{ClientId: id, Call: clock.Add(1)}
				in := registerInput{set: r.Intn(2) == 0, value: r.Intn(1000)}
				g := c.Lock()
				if in.set {
					g.Set(in.value)
					op.Output = in.value
				} else {
					op.Output = g.Get()
				}
				g.Unlock()
				op.Input = in
				op.Return = clock.Add(1)
				histories[id] = append(histories[id], op)
			}
		}(i)
	}
	wg.Wait()

	var ops []porcupine.Operation
	for _, h := range histories {
		ops = append(ops, h...)
	}
	assert.True(t, porcupine.CheckOperations(registerModel, ops))
}

func BenchmarkCellLock(b *testing.B) {
	c := New(0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			g := c.Lock()
			*g.Value() += 1
			g.Unlock()
		}
	})
}

func BenchmarkCellDo(b *testing.B) {
	c := New(0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Do(func(v *int) { *v += 1 })
		}
	})
}
