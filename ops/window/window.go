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

// Package window implements windowed functions over a partitioned,
// ordered stream (spec §4.5). Ranking functions (RANK, DENSE_RANK,
// NTILE, PERCENT_RANK, CUME_DIST, and ROW_NUMBER with an ORDER BY)
// always go through the general path: any insert or delete anywhere in
// a partition can renumber every row in it, so there is no sound
// incremental shortcut. SUM/AVG/COUNT/MIN/MAX over a trailing
// (PRECEDING-to-CURRENT) frame, LAG, and ROW_NUMBER without an ORDER
// BY take an O(1) streaming fast path when a partition only ever
// grows at its tail in order-by sequence, since a trailing frame's
// value for an existing row never changes when a later row arrives;
// any out-of-order insert or any delete falls the partition back to
// the general recompute path and rebuilds the fast state from there.
package window

import (
	"sort"

	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// OrderTerm is one ORDER BY term of the OVER clause.
type OrderTerm struct {
	Expr eval.Expr
	Desc bool
}

// Config describes one windowed SELECT item.
type Config struct {
	PartitionKey zset.KeyFunc // nil => single global partition
	Order        []OrderTerm
	Func         sqlast.WindowFunc
	Arg          eval.Expr // nil for COUNT(*)/ROW_NUMBER/RANK family
	Frame        *sqlast.Frame
	Offset       int // LAG/LEAD distance (default 1) or NTILE bucket count
	Alias        string
}

var globalPartition = zset.KeyFromText("\x00global\x00")

type partRow struct {
	key   zset.RowKey
	row   zset.Row
	order []zset.Value
}

type partitionState struct {
	rows        []partRow
	lastOutputs map[zset.RowKey]zset.Row
	fast        *fastState
}

// Window is the stateful operator; inputs[0] is the single upstream
// delta stream.
type Window struct {
	cfg        Config
	partitions map[zset.RowKey]*partitionState
}

func New(cfg Config) *Window {
	if cfg.Offset == 0 {
		cfg.Offset = 1
	}
	return &Window{cfg: cfg, partitions: make(map[zset.RowKey]*partitionState)}
}

func (w *Window) Reset() {
	w.partitions = make(map[zset.RowKey]*partitionState)
}

func (w *Window) partitionKey(r zset.Row) zset.RowKey {
	if w.cfg.PartitionKey == nil {
		return globalPartition
	}
	return w.cfg.PartitionKey(r)
}

func (w *Window) orderOf(r zset.Row) []zset.Value {
	vals := make([]zset.Value, len(w.cfg.Order))
	for i, term := range w.cfg.Order {
		vals[i], _ = term.Expr(r)
	}
	return vals
}

// less compares two partRows by the configured ORDER BY terms, falling
// back to the row's own identity text for a stable, deterministic tie
// break.
func (w *Window) less(a, b partRow) bool {
	for i, term := range w.cfg.Order {
		cmp, ok := a.order[i].Compare(b.order[i])
		if !ok {
			continue
		}
		if cmp == 0 {
			continue
		}
		if term.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.key.String() < b.key.String()
}

func (w *Window) Step(inputs []zset.Set) zset.Set {
	out := zset.New()
	touched := make(map[zset.RowKey]bool)
	var appends, deletes, outOfOrder int

	byPartition := make(map[zset.RowKey][]zset.Entry)
	inputs[0].Entries(func(e zset.Entry) bool {
		pk := w.partitionKey(e.Row)
		byPartition[pk] = append(byPartition[pk], e)
		touched[pk] = true
		return true
	})

	for pk, entries := range byPartition {
		p, ok := w.partitions[pk]
		if !ok {
			p = &partitionState{lastOutputs: make(map[zset.RowKey]zset.Row)}
			w.partitions[pk] = p
		}
		appends, deletes, outOfOrder = 0, 0, 0

		for _, e := range entries {
			if e.Weight > 0 {
				appends++
				pr := partRow{key: e.Key, row: e.Row, order: w.orderOf(e.Row)}
				if n := len(p.rows); n > 0 && w.less(pr, p.rows[n-1]) {
					outOfOrder++
				}
				i := sort.Search(len(p.rows), func(i int) bool { return w.less(pr, p.rows[i]) })
				p.rows = append(p.rows, partRow{})
				copy(p.rows[i+1:], p.rows[i:])
				p.rows[i] = pr
			} else if e.Weight < 0 {
				deletes++
				for i, pr := range p.rows {
					if pr.key == e.Key {
						p.rows = append(p.rows[:i], p.rows[i+1:]...)
						break
					}
				}
			}
		}

		canFast := w.fastEligible() && deletes == 0 && outOfOrder == 0 && appends > 0
		if canFast {
			newTail := p.rows[len(p.rows)-appends:]
			w.stepFast(&out, p, newTail)
		} else {
			p.fast = nil
			w.recomputeGeneral(&out, p)
		}
	}
	return out
}

func (w *Window) fastEligible() bool {
	if !w.cfg.Func.Streaming() {
		return false
	}
	if w.cfg.Func == sqlast.WinLag {
		return true
	}
	if w.cfg.Func == sqlast.WinRowNumber {
		return len(w.cfg.Order) == 0
	}
	if w.cfg.Frame == nil {
		return false
	}
	return w.cfg.Frame.End.Kind == sqlast.CurrentRow &&
		(w.cfg.Frame.Start.Kind == sqlast.NPreceding || w.cfg.Frame.Start.Kind == sqlast.UnboundedPreceding)
}

func (w *Window) emitRow(out *zset.Set, p *partitionState, key zset.RowKey, row zset.Row, present bool) {
	old, had := p.lastOutputs[key]
	if had {
		*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: outIdentity(old), Row: old, Weight: -1}))
	}
	if present {
		*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: outIdentity(row), Row: row, Weight: 1}))
		p.lastOutputs[key] = row
	} else {
		delete(p.lastOutputs, key)
	}
}

// outIdentity keys an emitted row by its full content (the annotated
// row plus its window value), so the retraction of a row's old value
// and the assertion of its new one stay two entries in one delta.
func outIdentity(row zset.Row) zset.RowKey {
	vals := make([]zset.Value, 0, row.Len())
	row.Each(func(_ string, v zset.Value) bool { vals = append(vals, v); return true })
	return zset.NewRowKey(vals...)
}

func withColumn(r zset.Row, alias string, v zset.Value) zset.Row {
	b := zset.RowBuilder{}
	r.Each(func(c string, val zset.Value) bool { b.Add(c, val); return true })
	b.Add(alias, v)
	return b.Row()
}

var _ circuit.Op = (*Window)(nil)
var _ circuit.Resettable = (*Window)(nil)
