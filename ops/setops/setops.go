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

// Package setops implements the stateful set operators of spec §4.7:
// DISTINCT (tracks emitted row-keys) and INTERSECT/EXCEPT, whose
// non-ALL forms are defined over positive-weight membership and whose
// ALL forms preserve multiset multiplicities (INTERSECT ALL: the
// smaller of the two sides' weights; EXCEPT ALL: the left weight minus
// the right, floored at 0), mirroring the retract/reassert pattern used
// throughout the aggregation operators.
package setops

import (
	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/zset"
)

// Distinct tracks the set of currently-present row-keys and their
// multiplicity. An insert emits +1 only when the key transitions from
// absent to present; a delete emits -1 only when it reaches zero.
type Distinct struct {
	weight map[zset.RowKey]int64
	row    map[zset.RowKey]zset.Row
}

func NewDistinct() *Distinct {
	return &Distinct{weight: make(map[zset.RowKey]int64), row: make(map[zset.RowKey]zset.Row)}
}

func (d *Distinct) Reset() {
	d.weight = make(map[zset.RowKey]int64)
	d.row = make(map[zset.RowKey]zset.Row)
}

func (d *Distinct) Step(inputs []zset.Set) zset.Set {
	out := zset.New()
	entries := make([]zset.Entry, 0, inputs[0].Len())
	inputs[0].Entries(func(e zset.Entry) bool { entries = append(entries, e); return true })
	for _, e := range entries {
		before := d.weight[e.Key]
		after := before + e.Weight
		if after == 0 {
			delete(d.weight, e.Key)
			delete(d.row, e.Key)
		} else {
			d.weight[e.Key] = after
			if e.Weight > 0 {
				d.row[e.Key] = e.Row
			}
		}
		switch {
		case before <= 0 && after > 0:
			out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: e.Key, Row: d.rowFor(e.Key, e.Row), Weight: 1}))
		case before > 0 && after <= 0:
			out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: e.Key, Row: e.Row, Weight: -1}))
		}
	}
	return out
}

func (d *Distinct) rowFor(k zset.RowKey, fallback zset.Row) zset.Row {
	if r, ok := d.row[k]; ok {
		return r
	}
	return fallback
}

// Kind distinguishes INTERSECT from EXCEPT.
type Kind uint8

const (
	Intersect Kind = iota
	Except
)

// SetOp implements INTERSECT [ALL] / EXCEPT [ALL] (spec §4.7). It
// maintains the integrated per-key weight of each side so that the
// combined multiplicity can be recomputed and diffed against what was
// last emitted, exactly as grouped aggregation recomputes and diffs a
// group's accumulated value.
type SetOp struct {
	kind        Kind
	all         bool
	leftWeight  map[zset.RowKey]int64
	rightWeight map[zset.RowKey]int64
	outWeight   map[zset.RowKey]int64
	row         map[zset.RowKey]zset.Row
}

func New(kind Kind, all bool) *SetOp {
	return &SetOp{
		kind:        kind,
		all:         all,
		leftWeight:  make(map[zset.RowKey]int64),
		rightWeight: make(map[zset.RowKey]int64),
		outWeight:   make(map[zset.RowKey]int64),
		row:         make(map[zset.RowKey]zset.Row),
	}
}

func (s *SetOp) Reset() {
	*s = *New(s.kind, s.all)
}

func (s *SetOp) combine(wl, wr int64) int64 {
	switch s.kind {
	case Intersect:
		if s.all {
			if wl < wr {
				if wl < 0 {
					return 0
				}
				return wl
			}
			if wr < 0 {
				return 0
			}
			return wr
		}
		if wl > 0 && wr > 0 {
			return 1
		}
		return 0
	case Except:
		if s.all {
			d := wl - wr
			if d < 0 {
				return 0
			}
			return d
		}
		if wl > 0 && wr <= 0 {
			return 1
		}
		return 0
	}
	return 0
}

func (s *SetOp) Step(inputs []zset.Set) zset.Set {
	touched := make(map[zset.RowKey]bool)
	apply := func(delta zset.Set, weights map[zset.RowKey]int64) {
		delta.Entries(func(e zset.Entry) bool {
			weights[e.Key] += e.Weight
			if weights[e.Key] == 0 {
				delete(weights, e.Key)
			}
			if e.Weight != 0 {
				s.row[e.Key] = e.Row
			}
			touched[e.Key] = true
			return true
		})
	}
	apply(inputs[0], s.leftWeight)
	apply(inputs[1], s.rightWeight)

	out := zset.New()
	for k := range touched {
		newCombined := s.combine(s.leftWeight[k], s.rightWeight[k])
		prev := s.outWeight[k]
		if newCombined == prev {
			continue
		}
		if newCombined == 0 {
			delete(s.outWeight, k)
		} else {
			s.outWeight[k] = newCombined
		}
		out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: k, Row: s.row[k], Weight: newCombined - prev}))
	}
	return out
}

var _ circuit.Op = (*Distinct)(nil)
var _ circuit.Op = (*SetOp)(nil)
var _ circuit.Resettable = (*Distinct)(nil)
var _ circuit.Resettable = (*SetOp)(nil)
