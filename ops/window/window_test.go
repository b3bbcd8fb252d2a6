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

package window

import (
	"testing"

	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

func wRow(id int64, region string, amount int64) zset.Row {
	return zset.NewRow([]string{"id", "region", "amount"},
		[]zset.Value{zset.Int(id), zset.Text(region), zset.Int(amount)})
}

func wKey(r zset.Row) zset.RowKey {
	id, _ := r.Get("id")
	return zset.NewRowKey(id)
}

func wRegionKey(r zset.Row) zset.RowKey {
	region, _ := r.Get("region")
	return zset.NewRowKey(region)
}

func amountArg(r zset.Row) (zset.Value, error) {
	v, _ := r.Get("amount")
	return v, nil
}

func idOrder() []OrderTerm {
	return []OrderTerm{{Expr: func(r zset.Row) (zset.Value, error) {
		v, _ := r.Get("id")
		return v, nil
	}}}
}

func in(rows ...zset.Row) zset.Set {
	entries := make([]zset.Entry, len(rows))
	for i, r := range rows {
		entries[i] = zset.Entry{Row: r, Weight: 1}
	}
	return zset.FromEntries(wKey, entries...)
}

func del(rows ...zset.Row) zset.Set {
	entries := make([]zset.Entry, len(rows))
	for i, r := range rows {
		entries[i] = zset.Entry{Row: r, Weight: -1}
	}
	return zset.FromEntries(wKey, entries...)
}

func TestRankGeneralPath(t *testing.T) {
	w := New(Config{
		PartitionKey: wRegionKey,
		Order:        []OrderTerm{{Expr: amountArg}},
		Func:         sqlast.WinRank,
		Alias:        "rank",
	})

	out := w.Step([]zset.Set{in(
		wRow(1, "east", 10),
		wRow(2, "east", 10),
		wRow(3, "east", 30),
	)})
	if out.Len() != 3 {
		t.Fatalf("expected 3 asserted rows, got %d", out.Len())
	}
	ranks := map[int64]int64{}
	out.Entries(func(e zset.Entry) bool {
		id, _ := e.Row.Get("id")
		rank, _ := e.Row.Get("rank")
		ranks[id.Int()] = rank.Int()
		return true
	})
	if ranks[1] != 1 || ranks[2] != 1 || ranks[3] != 3 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}

	// Inserting a row between id 1/2 and id 3 renumbers id 3's rank,
	// which must retract+reassert that row even though it wasn't touched.
	out2 := w.Step([]zset.Set{in(wRow(4, "east", 20))})
	var sawRetractOf3 bool
	out2.Entries(func(e zset.Entry) bool {
		id, _ := e.Row.Get("id")
		if id.Int() == 3 && e.Weight == -1 {
			sawRetractOf3 = true
		}
		return true
	})
	if !sawRetractOf3 {
		t.Fatalf("expected row 3 to be retracted when its rank shifted")
	}
}

func newWindowAlias(alias string) Config {
	return Config{
		PartitionKey: wRegionKey,
		Order:        idOrder(),
		Func:         sqlast.WinSum,
		Arg:          amountArg,
		Frame:        &sqlast.Frame{Start: sqlast.FrameBound{Kind: sqlast.UnboundedPreceding}, End: sqlast.FrameBound{Kind: sqlast.CurrentRow}},
		Alias:        alias,
	}
}

func TestRollingSumFastPathAppendOnly(t *testing.T) {
	w := New(newWindowAlias("running_total"))

	out := w.Step([]zset.Set{in(wRow(1, "east", 10))})
	if out.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", out.Len())
	}
	out.Entries(func(e zset.Entry) bool {
		if e.Weight != 1 {
			t.Fatalf("first append should be a pure assert, got weight %d", e.Weight)
		}
		total, _ := e.Row.Get("running_total")
		if total.Int() != 10 {
			t.Fatalf("expected running_total 10, got %v", total)
		}
		return true
	})

	if w.partitions[wRegionKey(wRow(1, "east", 10))].fast == nil {
		t.Fatalf("expected fast state to be populated after an append-only step")
	}

	out2 := w.Step([]zset.Set{in(wRow(2, "east", 5))})
	if out2.Len() != 1 {
		t.Fatalf("fast path should emit exactly one new assert, got %d entries", out2.Len())
	}
	out2.Entries(func(e zset.Entry) bool {
		if e.Weight != 1 {
			t.Fatalf("fast-path append should never retract an earlier row, got weight %d", e.Weight)
		}
		total, _ := e.Row.Get("running_total")
		if total.Int() != 15 {
			t.Fatalf("expected running_total 15, got %v", total)
		}
		return true
	})
}

func TestRollingSumFallsBackOnDelete(t *testing.T) {
	w := New(newWindowAlias("running_total"))

	w.Step([]zset.Set{in(wRow(1, "east", 10))})
	w.Step([]zset.Set{in(wRow(2, "east", 5))})

	pk := wRegionKey(wRow(1, "east", 10))
	if w.partitions[pk].fast == nil {
		t.Fatalf("expected fast state before the delete")
	}

	// Deleting row 1 must discard the fast state and fall back to a
	// full recompute for the partition, retracting/reasserting row 2.
	out := w.Step([]zset.Set{del(wRow(1, "east", 10))})
	if w.partitions[pk].fast != nil {
		t.Fatalf("expected fast state to be discarded after a delete")
	}
	var sawRow2Reassert bool
	out.Entries(func(e zset.Entry) bool {
		id, _ := e.Row.Get("id")
		total, _ := e.Row.Get("running_total")
		if id.Int() == 2 && e.Weight == 1 && total.Int() == 5 {
			sawRow2Reassert = true
		}
		return true
	})
	if !sawRow2Reassert {
		t.Fatalf("expected row 2's running_total to be recomputed to 5 after row 1 was deleted")
	}
}

func TestRollingSumFallsBackOnOutOfOrderInsert(t *testing.T) {
	w := New(newWindowAlias("running_total"))

	w.Step([]zset.Set{in(wRow(1, "east", 10))})
	w.Step([]zset.Set{in(wRow(3, "east", 5))})
	if w.partitions[wRegionKey(wRow(1, "east", 10))].fast == nil {
		t.Fatalf("expected fast state before the out-of-order insert")
	}

	// id 2 sorts before id 3 (already the tail), so this insert is
	// out of order and must force a general recompute for row 3.
	out := w.Step([]zset.Set{in(wRow(2, "east", 7))})
	pk := wRegionKey(wRow(1, "east", 10))
	if w.partitions[pk].fast != nil {
		t.Fatalf("expected fast state to be discarded after an out-of-order insert")
	}
	totals := map[int64]int64{}
	out.Entries(func(e zset.Entry) bool {
		if e.Weight != 1 {
			return true
		}
		id, _ := e.Row.Get("id")
		total, _ := e.Row.Get("running_total")
		totals[id.Int()] = total.Int()
		return true
	})
	if totals[2] != 17 || totals[3] != 22 {
		t.Fatalf("expected recomputed running totals 2=>17, 3=>22, got %v", totals)
	}
}
