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

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// keySep separates key-column values inside a RowKey's textual form.
// Chosen to be unlikely to appear in ordinary column text; collisions
// (two distinct value tuples producing the same joined string) would
// only matter if a column value itself contained this exact byte
// sequence, which push() callers are expected to avoid for key columns.
const keySep = "\x1f"

// RowKey is the opaque, hashable row identity described in the data
// model: a deterministic string derived from a source's declared key,
// stable under reserialization and equal for equal input values. The
// digest is a fast xxhash of that string, cached so hot-path map
// probing (join indexes, distinct sets) never rehashes.
type RowKey struct {
	text   string
	digest uint64
}

// NewRowKey builds a RowKey from the ordered values of a row's
// declared key columns.
func NewRowKey(parts ...Value) RowKey {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(p.String())
	}
	return KeyFromText(b.String())
}

// KeyFromText builds a RowKey directly from an already-joined string,
// for callers (a user-provided key function) that compute their own
// textual identity.
func KeyFromText(s string) RowKey {
	return RowKey{text: s, digest: xxhash.Sum64String(s)}
}

func (k RowKey) String() string { return k.text }
func (k RowKey) Hash() uint64   { return k.digest }
func (k RowKey) IsZero() bool   { return k.text == "" }

// KeyFunc derives a RowKey from a Row. Sources are declared with one
// of these: a single column, a composite of several columns, or an
// arbitrary user function.
type KeyFunc func(Row) RowKey

// SingleColumnKey returns a KeyFunc for a source declared with one key
// column.
func SingleColumnKey(col string) KeyFunc {
	return func(r Row) RowKey {
		v, _ := r.Get(col)
		return NewRowKey(v)
	}
}

// CompositeKey returns a KeyFunc for a source declared with several
// key columns, in the given order.
func CompositeKey(cols ...string) KeyFunc {
	return func(r Row) RowKey {
		vals := make([]Value, len(cols))
		for i, c := range cols {
			vals[i], _ = r.Get(c)
		}
		return NewRowKey(vals...)
	}
}
