// Copyright (C) 2024 The IVM Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package circuit implements the DAG-of-operators dataflow runtime:
// a Circuit wires named input streams through stateless and stateful
// operators to named output streams, and Step propagates one round of
// per-input deltas through the whole graph exactly once.
package circuit

import "github.com/flowsql/ivm/zset"

// Op is the contract every node's behavior satisfies: given the
// current step's input deltas (one Z-set per declared dependency, in
// the order they were listed when the node was added), produce this
// step's output delta. Op implementations that hold no state between
// steps (filter, project, union, ...) and those that do (join,
// aggregate, window, top-K, distinct) share this single interface;
// the only difference is whether Step closes over mutable fields.
type Op interface {
	Step(inputs []zset.Set) zset.Set
}

// Resettable is implemented by stateful operators so a Circuit (or its
// owning View, on disposal) can release internal state deterministically.
type Resettable interface {
	Reset()
}

// OpFunc adapts a plain function to Op, for the common case of a
// stateless operator with no owned state at all.
type OpFunc func(inputs []zset.Set) zset.Set

func (f OpFunc) Step(inputs []zset.Set) zset.Set { return f(inputs) }

// Stream is a handle to one node's output edge in a Circuit. It is an
// opaque index; the zero Stream refers to no node and is never valid
// to pass to Circuit methods.
type Stream struct {
	idx int
}

type node struct {
	name    string
	isInput bool
	keyFn   zset.KeyFunc // only meaningful when isInput
	deps    []int
	op      Op
	out     zset.Set
	subs    []func(zset.Set)
}

// Circuit is a DAG of operators compiled from a single SQL view
// definition. Nodes are added in dependency order (every dependency of
// a node must already exist), so the slice index itself is a valid
// topological order -- no separate sort is needed.
type Circuit struct {
	nodes     []*node
	inputByNm map[string]int
}

func New() *Circuit {
	return &Circuit{inputByNm: make(map[string]int)}
}

// DeclareInput registers an input stream named after a source or
// upstream view. keyFn is recorded on the input node; Step does not
// use it, neither to re-key the deltas the caller supplies nor to
// build the empty delta for an input that receives none in a step.
func (c *Circuit) DeclareInput(name string, keyFn zset.KeyFunc) Stream {
	n := &node{name: name, isInput: true, keyFn: keyFn}
	c.nodes = append(c.nodes, n)
	idx := len(c.nodes) - 1
	c.inputByNm[name] = idx
	return Stream{idx: idx}
}

// AddStateless adds a pure node: its Step result depends only on this
// step's input deltas, never on history.
func (c *Circuit) AddStateless(name string, deps []Stream, fn func(ins []zset.Set) zset.Set) Stream {
	return c.add(name, deps, OpFunc(fn))
}

// AddStateful adds a node that owns mutable state (a hash index, an
// accumulator table, a sorted buffer, ...). op.Step is called exactly
// once per Circuit.Step; state mutations must happen strictly inside
// that call, between the previous step's emit and this one's.
func (c *Circuit) AddStateful(name string, deps []Stream, op Op) Stream {
	return c.add(name, deps, op)
}

func (c *Circuit) add(name string, deps []Stream, op Op) Stream {
	idxs := make([]int, len(deps))
	for i, d := range deps {
		idxs[i] = d.idx
	}
	n := &node{name: name, deps: idxs, op: op}
	c.nodes = append(c.nodes, n)
	return Stream{idx: len(c.nodes) - 1}
}

// Subscribe registers fn to be called with this stream's output delta
// on every step in which that delta is non-empty. It returns an
// unsubscribe function.
func (c *Circuit) Subscribe(s Stream, fn func(zset.Set)) (unsubscribe func()) {
	n := c.nodes[s.idx]
	n.subs = append(n.subs, fn)
	id := len(n.subs) - 1
	return func() {
		n.subs[id] = nil
	}
}

// Output returns the last delta a stream emitted (empty before the
// first step, or for a step in which nothing changed).
func (c *Circuit) Output(s Stream) zset.Set {
	return c.nodes[s.idx].out
}

// Step propagates one round of input deltas through every node in
// topological order. Missing input names default to the empty Z-set.
// Each operator fires exactly once; this call runs to completion
// without yielding (cooperative-scheduling boundaries live in the
// exec package, above the circuit).
func (c *Circuit) Step(in map[string]zset.Set) {
	values := make([]zset.Set, len(c.nodes))
	for i, n := range c.nodes {
		var out zset.Set
		if n.isInput {
			d, ok := in[n.name]
			if !ok {
				d = zset.New()
			}
			out = d
		} else {
			ins := make([]zset.Set, len(n.deps))
			for j, dep := range n.deps {
				ins[j] = values[dep]
			}
			out = n.op.Step(ins)
		}
		values[i] = out
		n.out = out
		if !out.IsEmpty() {
			for _, sub := range n.subs {
				if sub != nil {
					sub(out)
				}
			}
		}
	}
}

// Reset releases every node's owned state, for Circuit disposal.
func (c *Circuit) Reset() {
	for _, n := range c.nodes {
		if r, ok := n.op.(Resettable); ok {
			r.Reset()
		}
		n.out = zset.Set{}
		n.subs = nil
	}
}

// InputStream looks up a previously declared input by name.
func (c *Circuit) InputStream(name string) (Stream, bool) {
	idx, ok := c.inputByNm[name]
	return Stream{idx: idx}, ok
}
