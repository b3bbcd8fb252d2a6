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

package main

import (
	"testing"

	"github.com/flowsql/ivm/zset"
)

func TestRowFromJSONRoundTrips(t *testing.T) {
	row := rowFromJSON(map[string]interface{}{
		"id":     float64(1),
		"amount": float64(20.5),
		"name":   "acme",
		"active": true,
		"notes":  nil,
	})

	if v, _ := row.Get("id"); v.Kind() != zset.KindInt || v.Int() != 1 {
		t.Fatalf("expected id to decode as an int, got %v", v)
	}
	if v, _ := row.Get("amount"); v.Kind() != zset.KindFloat || v.Float() != 20.5 {
		t.Fatalf("expected amount to decode as a float, got %v", v)
	}
	if v, _ := row.Get("name"); v.Text() != "acme" {
		t.Fatalf("expected name to decode as text, got %v", v)
	}
	if v, _ := row.Get("active"); !v.Bool() {
		t.Fatalf("expected active to decode as true")
	}
	if v, _ := row.Get("notes"); !v.IsNull() {
		t.Fatalf("expected notes to decode as null")
	}
}

func TestJSONFromRowRoundTrips(t *testing.T) {
	row := zset.NewRow([]string{"id", "amount"}, []zset.Value{zset.Int(7), zset.Float(1.5)})
	out := jsonFromRow(row)
	if out["id"] != int64(7) {
		t.Fatalf("expected id 7, got %v", out["id"])
	}
	if out["amount"] != 1.5 {
		t.Fatalf("expected amount 1.5, got %v", out["amount"])
	}
}
