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

// Package topk implements the ORDER BY ... LIMIT n OFFSET k operator
// of spec §4.6: a bounded sorted buffer of at most max(3*n, 500) rows.
// Inserts land via binary-search insertion; once the buffer is full,
// the element that falls past the retained window is evicted. After
// applying a step's delta, the window [k, k+n) is re-extracted and
// diffed against what was last emitted so only the actual differences
// go out -- the same recompute-and-diff idiom the aggregation and
// window operators use.
package topk

import (
	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/zset"
	"golang.org/x/exp/slices"
)

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Expr eval.Expr
	Desc bool
}

// Config describes one ORDER BY ... LIMIT ... OFFSET node.
type Config struct {
	Order  []OrderTerm
	Limit  int
	Offset int
	OutKey zset.KeyFunc
}

func bufferCap(limit int) int {
	c := 3 * limit
	if c < 500 {
		c = 500
	}
	return c
}

type bufRow struct {
	key   zset.RowKey
	row   zset.Row
	order []zset.Value
}

// TopK is the stateful operator; inputs[0] is the single upstream
// delta stream.
type TopK struct {
	cfg     Config
	cap     int
	rows    []bufRow
	lastWin map[zset.RowKey]zset.Row
}

func New(cfg Config) *TopK {
	return &TopK{
		cfg:     cfg,
		cap:     bufferCap(cfg.Limit),
		lastWin: make(map[zset.RowKey]zset.Row),
	}
}

func (t *TopK) Reset() {
	t.rows = nil
	t.lastWin = make(map[zset.RowKey]zset.Row)
}

func (t *TopK) orderOf(r zset.Row) []zset.Value {
	vals := make([]zset.Value, len(t.cfg.Order))
	for i, term := range t.cfg.Order {
		vals[i], _ = term.Expr(r)
	}
	return vals
}

func (t *TopK) less(a, b bufRow) bool {
	for i, term := range t.cfg.Order {
		cmp, ok := a.order[i].Compare(b.order[i])
		if !ok || cmp == 0 {
			continue
		}
		if term.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.key.String() < b.key.String()
}

func (t *TopK) findIndex(k zset.RowKey) int {
	for i, r := range t.rows {
		if r.key == k {
			return i
		}
	}
	return -1
}

func (t *TopK) insert(row bufRow) {
	i, _ := slices.BinarySearchFunc(t.rows, row, func(a, b bufRow) int {
		if t.less(a, b) {
			return -1
		}
		if t.less(b, a) {
			return 1
		}
		return 0
	})
	t.rows = append(t.rows, bufRow{})
	copy(t.rows[i+1:], t.rows[i:])
	t.rows[i] = row
	if len(t.rows) > t.cap {
		t.rows = t.rows[:t.cap]
	}
}

func (t *TopK) remove(k zset.RowKey) {
	if i := t.findIndex(k); i >= 0 {
		t.rows = append(t.rows[:i], t.rows[i+1:]...)
	}
}

// Step applies the delta to the bounded buffer and re-extracts the
// [offset, offset+limit) window, emitting only what changed relative
// to the window last emitted.
func (t *TopK) Step(inputs []zset.Set) zset.Set {
	out := zset.New()

	inputs[0].Entries(func(e zset.Entry) bool {
		t.remove(e.Key)
		if e.Weight > 0 {
			t.insert(bufRow{key: e.Key, row: e.Row, order: t.orderOf(e.Row)})
		}
		return true
	})

	lo := t.cfg.Offset
	hi := lo + t.cfg.Limit
	if hi > len(t.rows) {
		hi = len(t.rows)
	}
	if lo > hi {
		lo = hi
	}

	fresh := make(map[zset.RowKey]zset.Row, hi-lo)
	for i := lo; i < hi; i++ {
		fresh[t.rows[i].key] = t.rows[i].row
	}

	for k, row := range t.lastWin {
		if _, still := fresh[k]; !still {
			out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: t.outKey(k, row), Row: row, Weight: -1}))
		}
	}
	for k, row := range fresh {
		if old, had := t.lastWin[k]; !had || !old.Equal(row) {
			out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: t.outKey(k, row), Row: row, Weight: 1}))
		}
	}
	t.lastWin = fresh
	return out
}

func (t *TopK) outKey(k zset.RowKey, row zset.Row) zset.RowKey {
	if t.cfg.OutKey == nil {
		return k
	}
	return t.cfg.OutKey(row)
}

var _ circuit.Op = (*TopK)(nil)
var _ circuit.Resettable = (*TopK)(nil)
