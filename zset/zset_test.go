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

package zset

import "testing"

func row(id int64, v string) Row {
	return NewRow([]string{"id", "v"}, []Value{Int(id), Text(v)})
}

func keyFn(r Row) RowKey {
	id, _ := r.Get("id")
	return NewRowKey(id)
}

func TestGroupLaw(t *testing.T) {
	a := FromRows(keyFn, row(1, "a"), row(2, "b"))
	na := a.Negate()
	sum := a.Add(na)
	if !sum.IsEmpty() {
		t.Fatalf("add(A, negate(A)) should be empty, got %d entries", sum.Len())
	}

	b := FromRows(keyFn, row(2, "b"), row(3, "c"))
	ab := a.Add(b)
	ba := b.Add(a)
	if ab.Len() != ba.Len() {
		t.Fatalf("add should commute: len(A+B)=%d len(B+A)=%d", ab.Len(), ba.Len())
	}
	ab.Entries(func(e Entry) bool {
		be, ok := ba.Get(e.Key)
		if !ok || be.Weight != e.Weight {
			t.Fatalf("add should commute for key %v", e.Key)
		}
		return true
	})
}

func TestNoZeroWeightObservable(t *testing.T) {
	s := New()
	k := NewRowKey(Int(1))
	s.insert(k, row(1, "x"), 1)
	s.insert(k, row(1, "x"), -1)
	if _, ok := s.Get(k); ok {
		t.Fatalf("zero-weight key must not be observable")
	}
	if !s.IsEmpty() {
		t.Fatalf("set should be empty after cancelling weight")
	}
}

func TestReinsertSameKeyNetZeroDelta(t *testing.T) {
	// A delta representing retract-then-reassert of the identical row
	// nets to zero weight: once summed into one Set, the two entries
	// cancel and the delta is empty.
	delta := FromEntries(keyFn,
		Entry{Row: row(1, "x"), Weight: -1},
		Entry{Row: row(1, "x"), Weight: 1},
	)
	if !delta.IsEmpty() {
		t.Fatalf("net delta for identical reinsert should be empty once summed")
	}
}

func TestSubtract(t *testing.T) {
	a := FromRows(keyFn, row(1, "a"), row(2, "b"))
	b := FromRows(keyFn, row(2, "b"))
	d := a.Subtract(b)
	if d.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", d.Len())
	}
	e, ok := d.Get(NewRowKey(Int(1)))
	if !ok || e.Weight != 1 {
		t.Fatalf("expected row 1 at weight 1")
	}
}

func TestMapRecomputesKey(t *testing.T) {
	a := FromRows(keyFn, row(1, "a"))
	mapped := a.Map(func(r Row) RowKey {
		v, _ := r.Get("v")
		return NewRowKey(v)
	}, func(r Row) Row {
		v, _ := r.Get("v")
		return NewRow([]string{"v"}, []Value{v})
	})
	if _, ok := mapped.Get(NewRowKey(Text("a"))); !ok {
		t.Fatalf("expected mapped key derived from new row shape")
	}
}
