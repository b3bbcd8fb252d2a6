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

package circuit

import (
	"testing"

	"github.com/flowsql/ivm/zset"
)

func keyFn(r zset.Row) zset.RowKey {
	v, _ := r.Get("id")
	return zset.NewRowKey(v)
}

func mkrow(id int64) zset.Row {
	return zset.NewRow([]string{"id"}, []zset.Value{zset.Int(id)})
}

func TestStepPropagatesThroughFilter(t *testing.T) {
	c := New()
	in := c.DeclareInput("t", keyFn)
	out := c.AddStateless("filter", []Stream{in}, func(ins []zset.Set) zset.Set {
		return ins[0].Filter(func(r zset.Row) bool {
			v, _ := r.Get("id")
			return v.Int() > 1
		})
	})

	var got zset.Set
	c.Subscribe(out, func(s zset.Set) { got = s })

	delta := zset.FromRows(keyFn, mkrow(1), mkrow(2), mkrow(3))
	c.Step(map[string]zset.Set{"t": delta})

	if got.Len() != 2 {
		t.Fatalf("expected 2 rows to pass filter, got %d", got.Len())
	}
}

func TestEmptyStepEmitsNothing(t *testing.T) {
	c := New()
	in := c.DeclareInput("t", keyFn)
	fired := false
	out := c.AddStateless("noop", []Stream{in}, func(ins []zset.Set) zset.Set {
		fired = true
		return ins[0]
	})
	var subFired bool
	c.Subscribe(out, func(zset.Set) { subFired = true })

	c.Step(map[string]zset.Set{})
	if !fired {
		t.Fatalf("operator should still run once per step even on empty input")
	}
	if subFired {
		t.Fatalf("subscriber should not be notified for an empty output delta")
	}
}

func TestMissingInputDefaultsEmpty(t *testing.T) {
	c := New()
	in := c.DeclareInput("t", keyFn)
	out := c.AddStateless("id", []Stream{in}, func(ins []zset.Set) zset.Set { return ins[0] })
	c.Step(map[string]zset.Set{"other": zset.FromRows(keyFn, mkrow(1))})
	if !c.Output(out).IsEmpty() {
		t.Fatalf("stream with no matching input entry should see an empty delta")
	}
}
