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

// Package agg implements grouped and global aggregation (spec §4.4).
// Each group's accumulator is updated incrementally from the step's
// delta; SUM/COUNT/AVG/BIT_XOR update in O(1), while MIN/MAX/
// COUNT(DISTINCT)/BIT_AND/BIT_OR/BOOL_AND/BOOL_OR retain the group's
// distinct non-null values (these cannot be updated purely
// incrementally: removing the current minimum, for instance, requires
// recomputing from what remains). HAVING is evaluated independently
// against the group's previous and current aggregate row so that a
// group crossing the HAVING boundary in either direction retracts or
// asserts correctly, mirroring the retract-then-reassert idiom the
// set operators already use.
package agg

import (
	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// Spec is one aggregate function in the SELECT list.
type Spec struct {
	Alias string
	Op    sqlast.AggOp
	Arg   eval.Expr // nil for COUNT(*)
}

// Config describes a single grouped-or-global aggregation node.
type Config struct {
	// GroupKey and GroupRow are both nil for a global aggregate (one
	// implicit group over the whole input). Otherwise GroupKey derives
	// the group's identity and GroupRow projects just the GROUP BY
	// columns, which seed every emitted row alongside the aggregate
	// columns.
	GroupKey zset.KeyFunc
	GroupRow func(zset.Row) zset.Row

	Specs  []Spec
	Having eval.Expr // evaluated over the full (group-cols + agg-cols) output row

	OutKey zset.KeyFunc
}

var globalGroupKey = zset.KeyFromText("\x00global\x00")

type valCount struct {
	v zset.Value
	w int64
}

type specAcc struct {
	count      int64
	sumInt     int64
	sumFloat   float64
	sumIsFloat bool
	xor        int64
	values     map[string]*valCount
}

func newSpecAcc(op sqlast.AggOp) *specAcc {
	a := &specAcc{}
	switch op {
	case sqlast.AggMin, sqlast.AggMax, sqlast.AggCountDistinct,
		sqlast.AggBitAnd, sqlast.AggBitOr, sqlast.AggBoolAnd, sqlast.AggBoolOr:
		a.values = make(map[string]*valCount)
	}
	return a
}

type groupAcc struct {
	weight   int64
	groupRow zset.Row
	specs    []*specAcc

	hadLast bool
	lastRow zset.Row
}

// Aggregator is the stateful operator for one GROUP BY / global
// aggregate; inputs[0] is the single upstream delta stream.
type Aggregator struct {
	cfg    Config
	groups map[zset.RowKey]*groupAcc
}

func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg, groups: make(map[zset.RowKey]*groupAcc)}
}

func (a *Aggregator) Reset() {
	a.groups = make(map[zset.RowKey]*groupAcc)
}

func (a *Aggregator) groupKey(r zset.Row) zset.RowKey {
	if a.cfg.GroupKey == nil {
		return globalGroupKey
	}
	return a.cfg.GroupKey(r)
}

func (a *Aggregator) groupRowOf(r zset.Row) zset.Row {
	if a.cfg.GroupRow == nil {
		return zset.Row{}
	}
	return a.cfg.GroupRow(r)
}

func (a *Aggregator) Step(inputs []zset.Set) zset.Set {
	out := zset.New()
	touched := make(map[zset.RowKey]bool)

	inputs[0].Entries(func(e zset.Entry) bool {
		gk := a.groupKey(e.Row)
		g, ok := a.groups[gk]
		if !ok {
			g = &groupAcc{groupRow: a.groupRowOf(e.Row), specs: make([]*specAcc, len(a.cfg.Specs))}
			for i, s := range a.cfg.Specs {
				g.specs[i] = newSpecAcc(s.Op)
			}
			a.groups[gk] = g
		}
		g.weight += e.Weight
		for i, s := range a.cfg.Specs {
			applyDelta(g.specs[i], s, e)
		}
		touched[gk] = true
		return true
	})

	for gk := range touched {
		g := a.groups[gk]
		a.emitGroup(&out, gk, g)
		if g.weight <= 0 {
			delete(a.groups, gk)
		}
	}
	return out
}

func applyDelta(acc *specAcc, s Spec, e zset.Entry) {
	var v zset.Value
	if s.Arg != nil {
		v, _ = s.Arg(e.Row)
	}
	switch s.Op {
	case sqlast.AggCount:
		if s.Arg == nil || !v.IsNull() {
			acc.count += e.Weight
		}
	case sqlast.AggSum, sqlast.AggAvg:
		if v.IsNull() {
			return
		}
		acc.count += e.Weight
		if v.Kind() == zset.KindInt {
			acc.sumInt += v.Int() * e.Weight
		} else if f, ok := v.AsFloat(); ok {
			acc.sumIsFloat = true
			acc.sumFloat += f * float64(e.Weight)
		}
	case sqlast.AggBitXor:
		if v.IsNull() {
			return
		}
		n := e.Weight
		if n < 0 {
			n = -n
		}
		for i := int64(0); i < n; i++ {
			acc.xor ^= v.Int()
		}
	case sqlast.AggMin, sqlast.AggMax, sqlast.AggCountDistinct,
		sqlast.AggBitAnd, sqlast.AggBitOr, sqlast.AggBoolAnd, sqlast.AggBoolOr:
		if v.IsNull() {
			return
		}
		key := v.String()
		vc := acc.values[key]
		if vc == nil {
			vc = &valCount{v: v}
			acc.values[key] = vc
		}
		vc.w += e.Weight
		if vc.w == 0 {
			delete(acc.values, key)
		}
	}
}

func compute(op sqlast.AggOp, acc *specAcc) zset.Value {
	switch op {
	case sqlast.AggCount:
		return zset.Int(acc.count)
	case sqlast.AggSum:
		if acc.count == 0 {
			return zset.Int(0)
		}
		if acc.sumIsFloat {
			return zset.Float(acc.sumFloat + float64(acc.sumInt))
		}
		return zset.Int(acc.sumInt)
	case sqlast.AggAvg:
		if acc.count == 0 {
			return zset.Null
		}
		return zset.Float((acc.sumFloat + float64(acc.sumInt)) / float64(acc.count))
	case sqlast.AggBitXor:
		return zset.Int(acc.xor)
	case sqlast.AggMin, sqlast.AggMax:
		var best zset.Value
		have := false
		for _, vc := range acc.values {
			if !have {
				best, have = vc.v, true
				continue
			}
			cmp, ok := vc.v.Compare(best)
			if !ok {
				continue
			}
			if (op == sqlast.AggMin && cmp < 0) || (op == sqlast.AggMax && cmp > 0) {
				best = vc.v
			}
		}
		if !have {
			return zset.Null
		}
		return best
	case sqlast.AggCountDistinct:
		return zset.Int(int64(len(acc.values)))
	case sqlast.AggBitAnd, sqlast.AggBitOr:
		have := false
		var acc64 int64
		for _, vc := range acc.values {
			n := vc.v.Int()
			if !have {
				acc64, have = n, true
				continue
			}
			if op == sqlast.AggBitAnd {
				acc64 &= n
			} else {
				acc64 |= n
			}
		}
		if !have {
			return zset.Null
		}
		return zset.Int(acc64)
	case sqlast.AggBoolAnd, sqlast.AggBoolOr:
		trueN, falseN := 0, 0
		for _, vc := range acc.values {
			if vc.v.Bool() {
				trueN++
			} else {
				falseN++
			}
		}
		if trueN+falseN == 0 {
			return zset.Null
		}
		if op == sqlast.AggBoolAnd {
			return zset.Bool(falseN == 0)
		}
		return zset.Bool(trueN > 0)
	default:
		return zset.Null
	}
}

func buildRow(cfg Config, g *groupAcc) zset.Row {
	b := zset.RowBuilder{}
	g.groupRow.Each(func(c string, v zset.Value) bool { b.Add(c, v); return true })
	for i, s := range cfg.Specs {
		b.Add(s.Alias, compute(s.Op, g.specs[i]))
	}
	return b.Row()
}

func (a *Aggregator) passesHaving(row zset.Row) bool {
	if a.cfg.Having == nil {
		return true
	}
	return eval.Matches(eval.EvalSafe(a.cfg.Having, row, nil))
}

func (a *Aggregator) emitGroup(out *zset.Set, gk zset.RowKey, g *groupAcc) {
	oldPassed := g.hadLast && a.passesHaving(g.lastRow)
	exists := g.weight > 0
	var newRow zset.Row
	newPassed := false
	if exists {
		newRow = buildRow(a.cfg, g)
		newPassed = a.passesHaving(newRow)
	}
	if oldPassed {
		*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: a.cfg.OutKey(g.lastRow), Row: g.lastRow, Weight: -1}))
	}
	if newPassed {
		*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: a.cfg.OutKey(newRow), Row: newRow, Weight: 1}))
	}
	if exists {
		g.lastRow, g.hadLast = newRow, true
	} else {
		g.hadLast = false
	}
}

var _ circuit.Op = (*Aggregator)(nil)
var _ circuit.Resettable = (*Aggregator)(nil)
