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

// Row is an ordered mapping from column name to Value. Column order is
// the order columns were first bound (SELECT item order, or push
// order for a freshly-observed source row); it is preserved so that
// `table.*` projections and schema inference see a stable shape.
//
// Rows are immutable: "update" is insert-new + delete-old at the same
// key, never in-place mutation of an existing Row's Values.
type Row struct {
	cols []string
	vals []Value
}

// NewRow builds a Row from parallel column/value slices. The slices
// are not retained; callers may reuse them.
func NewRow(cols []string, vals []Value) Row {
	r := Row{
		cols: make([]string, len(cols)),
		vals: make([]Value, len(vals)),
	}
	copy(r.cols, cols)
	copy(r.vals, vals)
	return r
}

// RowBuilder accumulates columns in order; it is the idiomatic way to
// build up a Row one binding at a time (projection, join merge).
type RowBuilder struct {
	cols []string
	vals []Value
}

func (b *RowBuilder) Add(col string, v Value) *RowBuilder {
	for i, c := range b.cols {
		if c == col {
			b.vals[i] = v
			return b
		}
	}
	b.cols = append(b.cols, col)
	b.vals = append(b.vals, v)
	return b
}

func (b *RowBuilder) Row() Row {
	return Row{cols: b.cols, vals: b.vals}
}

func (r Row) Len() int { return len(r.cols) }

func (r Row) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

func (r Row) Get(col string) (Value, bool) {
	for i, c := range r.cols {
		if c == col {
			return r.vals[i], true
		}
	}
	return Null, false
}

func (r Row) At(i int) (string, Value) { return r.cols[i], r.vals[i] }

// Each calls fn for every column in order; fn returning false stops
// iteration early.
func (r Row) Each(fn func(col string, v Value) bool) {
	for i, c := range r.cols {
		if !fn(c, r.vals[i]) {
			return
		}
	}
}

// Merge returns a new Row that is r followed by the columns of o not
// already present in r (used to project LEFT JOIN/RIGHT JOIN rows
// where the unmatched side contributes only NULLs).
func (r Row) Merge(o Row) Row {
	b := RowBuilder{cols: append([]string{}, r.cols...), vals: append([]Value{}, r.vals...)}
	o.Each(func(col string, v Value) bool {
		b.Add(col, v)
		return true
	})
	return b.Row()
}

// Equal compares two rows column-by-column, in order, with Value
// equality (used by test helpers and the non-equi join predicate
// evaluator, not by row identity which is key-based).
func (r Row) Equal(o Row) bool {
	if len(r.cols) != len(o.cols) {
		return false
	}
	for i := range r.cols {
		if r.cols[i] != o.cols[i] || !r.vals[i].Equal(o.vals[i]) {
			return false
		}
	}
	return true
}
