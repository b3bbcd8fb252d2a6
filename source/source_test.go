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

package source

import (
	"testing"

	"github.com/flowsql/ivm/zset"
)

func row(id int64, v string) zset.Row {
	return zset.NewRow([]string{"id", "v"}, []zset.Value{zset.Int(id), zset.Text(v)})
}

func TestPushUpdateEmitsRetractThenAssert(t *testing.T) {
	// A same-key update's retract and assert net to zero weight once
	// summed (zset.Set's group law), so they must arrive as two
	// separate notifications rather than one collapsed delta -- this
	// observes the subscriber stream directly rather than the
	// returned net Set.
	s, err := New(Config{Name: "orders", Key: zset.SingleColumnKey("id")})
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	s.Push([]zset.Row{row(1, "a")})

	var deltas []zset.Set
	s.Subscribe(func(d zset.Set) { deltas = append(deltas, d) })
	s.Push([]zset.Row{row(1, "b")})

	if len(deltas) != 2 {
		t.Fatalf("expected 2 separate notifications for an update, got %d", len(deltas))
	}
	var sawRetract, sawAssert bool
	for _, d := range deltas {
		d.Entries(func(e zset.Entry) bool {
			v, _ := e.Row.Get("v")
			if e.Weight == -1 && v.Text() == "a" {
				sawRetract = true
			}
			if e.Weight == 1 && v.Text() == "b" {
				sawAssert = true
			}
			return true
		})
	}
	if !sawRetract || !sawAssert {
		t.Fatalf("expected a retraction of the old row and an assertion of the new row across the two notifications")
	}
}

func TestMaxRowsEvictsWithoutRetraction(t *testing.T) {
	s, _ := New(Config{Name: "ticks", Key: zset.SingleColumnKey("id"), MaxRows: 2})
	s.Push([]zset.Row{row(1, "a")})
	s.Push([]zset.Row{row(2, "b")})
	out := s.Push([]zset.Row{row(3, "c")})

	if out.Len() != 1 {
		t.Fatalf("eviction must not emit a retraction for the dropped row, got %d entries", out.Len())
	}
	snap := s.Snapshot()
	if snap.Count != 2 {
		t.Fatalf("expected 2 retained rows after eviction, got %d", snap.Count)
	}
	if snap.EvictCount != 1 {
		t.Fatalf("expected 1 eviction recorded, got %d", snap.EvictCount)
	}
}

func TestMaxRowsEvictsByMostRecentPushNotFirstInsertion(t *testing.T) {
	s, _ := New(Config{Name: "ticks", Key: zset.SingleColumnKey("id"), MaxRows: 2})
	s.Push([]zset.Row{row(1, "a")})
	s.Push([]zset.Row{row(2, "b")})
	s.Push([]zset.Row{row(1, "a2")}) // re-push of key 1 moves it to most-recent
	s.Push([]zset.Row{row(3, "c")})  // must evict key 2, not key 1

	snap := s.Snapshot()
	if snap.Count != 2 {
		t.Fatalf("expected 2 retained rows after eviction, got %d", snap.Count)
	}
	var sawOne, sawTwo, sawThree bool
	s.Integrated().Entries(func(e zset.Entry) bool {
		id, _ := e.Row.Get("id")
		switch id.Int() {
		case 1:
			sawOne = true
		case 2:
			sawTwo = true
		case 3:
			sawThree = true
		}
		return true
	})
	if sawTwo {
		t.Fatalf("expected key 2 (least recently pushed) to be evicted")
	}
	if !sawOne || !sawThree {
		t.Fatalf("expected keys 1 and 3 (most recently pushed) to be retained")
	}
}

func TestRemoveEmitsRetraction(t *testing.T) {
	s, _ := New(Config{Name: "orders", Key: zset.SingleColumnKey("id")})
	s.Push([]zset.Row{row(1, "a")})
	out := s.Remove([]zset.RowKey{zset.NewRowKey(zset.Int(1))})
	if out.Len() != 1 {
		t.Fatalf("expected 1 retraction, got %d", out.Len())
	}
	out.Entries(func(e zset.Entry) bool {
		if e.Weight != -1 {
			t.Fatalf("expected weight -1, got %d", e.Weight)
		}
		return true
	})
}

func TestClearRetractsEverything(t *testing.T) {
	s, _ := New(Config{Name: "orders", Key: zset.SingleColumnKey("id")})
	s.Push([]zset.Row{row(1, "a"), row(2, "b")})
	out := s.Clear()
	if out.Len() != 2 {
		t.Fatalf("expected 2 retractions, got %d", out.Len())
	}
	if s.Snapshot().Count != 0 {
		t.Fatalf("expected empty source after clear")
	}
}

func TestConstructionRejectsMissingKey(t *testing.T) {
	if _, err := New(Config{Name: "orders"}); err == nil {
		t.Fatalf("expected a config error for a missing key function")
	}
}
