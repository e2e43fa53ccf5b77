// Package calltree accumulates sampled stacks into weighted per-group call
// trees. One writer (the sampling loop) records while readers inspect; once
// frozen a tree never changes again.
package calltree

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flarelabs/flare/internal/frame"
)

type (
	// Node is one frame of an aggregated call tree. The synthetic root of
	// each group has a zero Frame and carries the group totals.
	Node struct {
		Frame    frame.Frame
		Count    uint64
		TimeNS   uint64
		children map[uint64]*Node
	}

	group struct {
		mu   sync.Mutex
		root *Node
	}

	// Aggregator holds the call trees of one session, one per group key.
	Aggregator struct {
		mu     sync.RWMutex
		groups map[string]*group
		frozen int32
	}
)

func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[string]*group)}
}

// Record walks the stack root to leaf under groupKey, creating nodes on
// first sight and adding the sample's count and weight along the path. The
// stack is leaf first, as dump providers report it. Recording on a frozen
// aggregator is a no-op.
func (a *Aggregator) Record(groupKey string, stack []frame.Frame, weight time.Duration) {
	if len(stack) == 0 || atomic.LoadInt32(&a.frozen) != 0 {
		return
	}
	g := a.group(groupKey)

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check under the group lock: Freeze takes every group lock after
	// flipping the flag, so a record that got past the first check either
	// lands before the freeze or sees the flag here.
	if atomic.LoadInt32(&a.frozen) != 0 {
		return
	}

	w := uint64(weight.Nanoseconds())
	node := g.root
	node.Count++
	node.TimeNS += w
	for i := len(stack) - 1; i >= 0; i-- {
		node = node.child(stack[i])
		node.Count++
		node.TimeNS += w
	}
}

// Freeze stops all further recording. It synchronizes with every in-flight
// Record, so once Freeze returns the trees are immutable and may be read
// without locking.
func (a *Aggregator) Freeze() {
	if !atomic.CompareAndSwapInt32(&a.frozen, 0, 1) {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, g := range a.groups {
		g.mu.Lock()
		g.mu.Unlock() //nolint:staticcheck // empty critical section is the synchronization point
	}
}

func (a *Aggregator) Frozen() bool {
	return atomic.LoadInt32(&a.frozen) != 0
}

// Trees returns the synthetic root of every group, keyed by group name.
// Callers must not mutate the result; it is only safe to traverse freely
// after Freeze.
func (a *Aggregator) Trees() map[string]*Node {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]*Node, len(a.groups))
	for name, g := range a.groups {
		out[name] = g.root
	}
	return out
}

// SampleCount returns the total number of samples recorded across all
// groups. Safe to call while the session is still recording.
func (a *Aggregator) SampleCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total uint64
	for _, g := range a.groups {
		g.mu.Lock()
		total += g.root.Count
		g.mu.Unlock()
	}
	return total
}

func (a *Aggregator) group(key string) *group {
	a.mu.RLock()
	g, ok := a.groups[key]
	a.mu.RUnlock()
	if ok {
		return g
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok = a.groups[key]; ok {
		return g
	}
	g = &group{root: &Node{children: make(map[uint64]*Node)}}
	a.groups[key] = g
	return g
}

func (n *Node) child(f frame.Frame) *Node {
	id := f.ID()
	c, ok := n.children[id]
	if !ok {
		c = &Node{Frame: f, children: make(map[uint64]*Node)}
		n.children[id] = c
	}
	return c
}

// Children returns the node's children. Insertion order is not meaningful,
// so the result is sorted by frame identity to keep traversals stable.
func (n *Node) Children() []*Node {
	if len(n.children) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Frame.ID() < out[j].Frame.ID()
	})
	return out
}
