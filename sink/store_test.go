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

package sink

import (
	"testing"

	"github.com/flowsql/ivm/zset"
)

func sampleRow(id int64, name string) zset.Row {
	return zset.NewRow([]string{"id", "name"}, []zset.Value{zset.Int(id), zset.Text(name)})
}

func TestPutGetRoundTrips(t *testing.T) {
	s := New()
	k := zset.NewRowKey(zset.Int(1))
	s.Put(7, k, sampleRow(1, "acme"))

	rows := s.Get(7)
	row, ok := rows[k]
	if !ok {
		t.Fatalf("expected the row to round-trip through compression")
	}
	name, _ := row.Get("name")
	if name.Text() != "acme" {
		t.Fatalf("expected name %q, got %q", "acme", name.Text())
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row tracked, got %d", s.Len())
	}
}

func TestDeleteRemovesFromBucket(t *testing.T) {
	s := New()
	k1 := zset.NewRowKey(zset.Int(1))
	k2 := zset.NewRowKey(zset.Int(2))
	s.Put(3, k1, sampleRow(1, "a"))
	s.Put(3, k2, sampleRow(2, "b"))

	s.Delete(3, k1)
	rows := s.Get(3)
	if _, had := rows[k1]; had {
		t.Fatalf("expected key 1 to be gone after Delete")
	}
	if _, had := rows[k2]; !had {
		t.Fatalf("expected key 2 to remain")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row remaining, got %d", s.Len())
	}
}

func TestGetOnEmptyBucketReturnsEmptyMap(t *testing.T) {
	s := New()
	rows := s.Get(42)
	if len(rows) != 0 {
		t.Fatalf("expected an empty map for an untouched bucket, got %d entries", len(rows))
	}
}

func TestValueKindsRoundTripThroughCodec(t *testing.T) {
	s := New()
	k := zset.NewRowKey(zset.Int(1))
	row := zset.NewRow(
		[]string{"i", "f", "t", "b", "n"},
		[]zset.Value{zset.Int(-5), zset.Float(3.25), zset.Text("hi"), zset.Bool(true), zset.Null},
	)
	s.Put(1, k, row)
	got := s.Get(1)[k]

	if v, _ := got.Get("i"); v.Int() != -5 {
		t.Fatalf("int did not round-trip: %v", v)
	}
	if v, _ := got.Get("f"); v.Float() != 3.25 {
		t.Fatalf("float did not round-trip: %v", v)
	}
	if v, _ := got.Get("t"); v.Text() != "hi" {
		t.Fatalf("text did not round-trip: %v", v)
	}
	if v, _ := got.Get("b"); !v.Bool() {
		t.Fatalf("bool did not round-trip: %v", v)
	}
	if v, _ := got.Get("n"); !v.IsNull() {
		t.Fatalf("null did not round-trip: %v", v)
	}
}
