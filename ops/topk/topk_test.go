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

package topk

import (
	"testing"

	"github.com/flowsql/ivm/zset"
)

func vRow(v int64) zset.Row {
	return zset.NewRow([]string{"v"}, []zset.Value{zset.Int(v)})
}

func vKey(r zset.Row) zset.RowKey {
	v, _ := r.Get("v")
	return zset.NewRowKey(v)
}

func vOrder(r zset.Row) (zset.Value, error) {
	v, _ := r.Get("v")
	return v, nil
}

func push(vals ...int64) zset.Set {
	entries := make([]zset.Entry, len(vals))
	for i, v := range vals {
		entries[i] = zset.Entry{Row: vRow(v), Weight: 1}
	}
	return zset.FromEntries(vKey, entries...)
}

func TestTop3DescendingAlwaysMaterializesTheThree(t *testing.T) {
	k := New(Config{
		Order: []OrderTerm{{Expr: vOrder, Desc: true}},
		Limit: 3,
	})

	present := map[int64]bool{}
	for _, v := range []int64{5, 2, 8, 1, 9, 4, 7} {
		out := k.Step([]zset.Set{push(v)})
		out.Entries(func(e zset.Entry) bool {
			val, _ := e.Row.Get("v")
			if e.Weight > 0 {
				present[val.Int()] = true
			} else {
				delete(present, val.Int())
			}
			return true
		})
	}
	if len(present) != 3 {
		t.Fatalf("expected exactly 3 rows in the top-3 window, got %d: %v", len(present), present)
	}
	for _, want := range []int64{9, 8, 7} {
		if !present[want] {
			t.Fatalf("expected %d in final top-3, got %v", want, present)
		}
	}
}

func TestTopKDeleteShiftsWindow(t *testing.T) {
	k := New(Config{
		Order: []OrderTerm{{Expr: vOrder, Desc: true}},
		Limit: 2,
	})
	k.Step([]zset.Set{push(10, 20, 30)})

	del := zset.FromEntries(vKey, zset.Entry{Row: vRow(30), Weight: -1})
	out := k.Step([]zset.Set{del})

	var sawRetract30, sawAssert10 bool
	out.Entries(func(e zset.Entry) bool {
		v, _ := e.Row.Get("v")
		if v.Int() == 30 && e.Weight == -1 {
			sawRetract30 = true
		}
		if v.Int() == 10 && e.Weight == 1 {
			sawAssert10 = true
		}
		return true
	})
	if !sawRetract30 || !sawAssert10 {
		t.Fatalf("expected 30 retracted and 10 to enter the top-2 window, got entries: %v", out.Slice())
	}
}

func TestTopKOffsetWindow(t *testing.T) {
	k := New(Config{
		Order:  []OrderTerm{{Expr: vOrder, Desc: true}},
		Limit:  2,
		Offset: 1,
	})
	out := k.Step([]zset.Set{push(10, 20, 30, 40)})
	got := map[int64]bool{}
	out.Entries(func(e zset.Entry) bool {
		v, _ := e.Row.Get("v")
		if e.Weight > 0 {
			got[v.Int()] = true
		}
		return true
	})
	// Ranked desc: 40, 30, 20, 10 -- offset 1, limit 2 => {30, 20}.
	if len(got) != 2 || !got[30] || !got[20] {
		t.Fatalf("expected window {30,20} at offset 1, got %v", got)
	}
}
