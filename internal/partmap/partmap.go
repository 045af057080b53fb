// Package partmap provide a partitioned map guarded by spinlocks.
package partmap

import (
	"github.com/cespare/xxhash"
	"github.com/go-ricrob/spinmutex/guarded"
)

type part[V any] struct {
	m              map[string]V
	source, target []string
}

// Map is a string keyed map split into partitions, each locked on its own.
type Map[V any] struct {
	numPart uint64
	parts   []*guarded.Cell[part[V]]
}

// New returns an empty map with numPart partitions.
func New[V any](numPart uint64) *Map[V] {
	if numPart == 0 {
		numPart = 1
	}
	pm := &Map[V]{
		numPart: numPart,
		parts:   make([]*guarded.Cell[part[V]], numPart),
	}
	for i := range pm.parts {
		pm.parts[i] = guarded.New(part[V]{m: make(map[string]V)})
	}
	return pm
}

func (pm *Map[V]) part(k string) *guarded.Cell[part[V]] {
	return pm.parts[xxhash.Sum64String(k)%pm.numPart]
}

func (pm *Map[V]) Load(k string) (V, bool) {
	g := pm.part(k).Lock()
	v, ok := g.Value().m[k]
	g.Unlock()
	return v, ok
}

func (pm *Map[V]) Store(k string, v V) {
	g := pm.part(k).Lock()
	g.Value().m[k] = v
	g.Unlock()
}

// StoreTarget stores v if k is not yet present and records k as a target of
// the current round. It reports whether v was stored.
func (pm *Map[V]) StoreTarget(k string, v V) bool {
	g := pm.part(k).Lock()
	defer g.Unlock()
	p := g.Value()
	if _, ok := p.m[k]; ok {
		return false
	}
	p.m[k] = v
	p.target = append(p.target, k)
	return true
}

// Update calls f with the value of k while its partition is locked. A
// missing key is passed as the zero V and stored afterwards.
func (pm *Map[V]) Update(k string, f func(v *V)) {
	g := pm.part(k).Lock()
	defer g.Unlock()
	p := g.Value()
	v := p.m[k]
	f(&v)
	p.m[k] = v
}

// Range calls f for every entry, one partition at a time, until f returns false.
// The partition is locked while f runs, so f must not use the map.
func (pm *Map[V]) Range(f func(k string, v V) bool) {
	for _, c := range pm.parts {
		g := c.Lock()
		for k, v := range g.Value().m {
			if !f(k, v) {
				g.Unlock()
				return
			}
		}
		g.Unlock()
	}
}

func (pm *Map[V]) Size() int {
	size := 0
	for _, c := range pm.parts {
		c.Do(func(p *part[V]) { size += len(p.m) })
	}
	return size
}

func (pm *Map[V]) NumPart() int { return int(pm.numPart) }

// Source returns the keys stored as targets during the previous round of partition idx.
func (pm *Map[V]) Source(idx int) []string {
	g := pm.parts[idx].Lock()
	defer g.Unlock()
	return g.Value().source
}

// Swap makes the targets of every partition the sources of the next round.
func (pm *Map[V]) Swap() {
	for _, c := range pm.parts {
		c.Do(func(p *part[V]) { p.source, p.target = p.target, nil })
	}
}
