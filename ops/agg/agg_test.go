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

package agg

import (
	"testing"

	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

func amountExpr(r zset.Row) (zset.Value, error) {
	v, _ := r.Get("amount")
	return v, nil
}

func regionRow(r zset.Row) zset.Row {
	v, _ := r.Get("region")
	return zset.NewRow([]string{"region"}, []zset.Value{v})
}

func regionKey(r zset.Row) zset.RowKey {
	v, _ := r.Get("region")
	return zset.NewRowKey(v)
}

func outKey(r zset.Row) zset.RowKey {
	region, _ := r.Get("region")
	return zset.NewRowKey(region)
}

func mkRow(region string, amount int64) zset.Row {
	return zset.NewRow([]string{"region", "amount"}, []zset.Value{zset.Text(region), zset.Int(amount)})
}

// sourceKey gives each distinct row its own identity, the way a real
// source's declared key would -- these fixtures would otherwise
// collapse onto each other under a constant key.
func sourceKey(r zset.Row) zset.RowKey {
	var vals []zset.Value
	r.Each(func(_ string, v zset.Value) bool { vals = append(vals, v); return true })
	return zset.NewRowKey(vals...)
}

func TestSumGroupedByRegion(t *testing.T) {
	a := New(Config{
		GroupKey: regionKey,
		GroupRow: regionRow,
		Specs:    []Spec{{Alias: "total", Op: sqlast.AggSum, Arg: amountExpr}},
		OutKey:   outKey,
	})
	in := zset.FromEntries(sourceKey,
		zset.Entry{Row: mkRow("east", 10), Weight: 1},
		zset.Entry{Row: mkRow("east", 5), Weight: 1},
	)
	out := a.Step([]zset.Set{in})
	if out.Len() != 1 {
		t.Fatalf("expected 1 output row, got %d", out.Len())
	}
	out.Entries(func(e zset.Entry) bool {
		total, _ := e.Row.Get("total")
		if total.Int() != 15 {
			t.Fatalf("expected total 15, got %v", total)
		}
		return true
	})
}

func TestHavingRetractOnCrossingBoundary(t *testing.T) {
	having := func(r zset.Row) (zset.Value, error) {
		total, _ := r.Get("total")
		return zset.Bool(total.Int() > 10), nil
	}
	a := New(Config{
		GroupKey: regionKey,
		GroupRow: regionRow,
		Specs:    []Spec{{Alias: "total", Op: sqlast.AggSum, Arg: amountExpr}},
		Having:   eval.Expr(having),
		OutKey:   outKey,
	})
	step1 := zset.FromEntries(sourceKey,
		zset.Entry{Row: mkRow("east", 5), Weight: 1},
	)
	out1 := a.Step([]zset.Set{step1})
	if out1.Len() != 0 {
		t.Fatalf("group total 5 should not pass HAVING > 10, got %d entries", out1.Len())
	}

	step2 := zset.FromEntries(sourceKey,
		zset.Entry{Row: mkRow("east", 20), Weight: 1},
	)
	out2 := a.Step([]zset.Set{step2})
	if out2.Len() != 1 {
		t.Fatalf("group total 25 should now pass HAVING, got %d entries", out2.Len())
	}
	out2.Entries(func(e zset.Entry) bool {
		if e.Weight != 1 {
			t.Fatalf("expected a fresh assert (weight 1) crossing into HAVING, got %d", e.Weight)
		}
		return true
	})

	step3 := zset.FromEntries(sourceKey,
		zset.Entry{Row: mkRow("east", 20), Weight: -1},
	)
	out3 := a.Step([]zset.Set{step3})
	if out3.Len() != 1 {
		t.Fatalf("dropping back under HAVING threshold should retract, got %d entries", out3.Len())
	}
	out3.Entries(func(e zset.Entry) bool {
		if e.Weight != -1 {
			t.Fatalf("expected a retraction (weight -1) leaving HAVING, got %d", e.Weight)
		}
		return true
	})
}

func TestCountDistinctAndMinMax(t *testing.T) {
	a := New(Config{
		Specs: []Spec{
			{Alias: "distinct_amt", Op: sqlast.AggCountDistinct, Arg: amountExpr},
			{Alias: "min_amt", Op: sqlast.AggMin, Arg: amountExpr},
			{Alias: "max_amt", Op: sqlast.AggMax, Arg: amountExpr},
		},
		OutKey: func(zset.Row) zset.RowKey { return zset.KeyFromText("global") },
	})
	in := zset.FromEntries(sourceKey,
		zset.Entry{Row: mkRow("east", 10), Weight: 1},
		zset.Entry{Row: mkRow("west", 10), Weight: 1},
		zset.Entry{Row: mkRow("west", 3), Weight: 1},
	)
	out := a.Step([]zset.Set{in})
	out.Entries(func(e zset.Entry) bool {
		dv, _ := e.Row.Get("distinct_amt")
		mn, _ := e.Row.Get("min_amt")
		mx, _ := e.Row.Get("max_amt")
		if dv.Int() != 2 {
			t.Fatalf("expected 2 distinct amounts, got %v", dv)
		}
		if mn.Int() != 3 || mx.Int() != 10 {
			t.Fatalf("expected min=3 max=10, got min=%v max=%v", mn, mx)
		}
		return true
	})
}
