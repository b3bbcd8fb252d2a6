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

package eval

import "github.com/flowsql/ivm/zset"

// Truth is the result of evaluating a boolean-typed expression under
// SQL's three-valued logic (spec §6): NULL compared with anything is
// neither true nor false, and WHERE excludes any row whose predicate
// is not definitely TruthTrue.
type Truth uint8

const (
	TruthUnknown Truth = iota
	TruthTrue
	TruthFalse
)

// ToTruth converts a boolean-ish Value to a Truth. Non-null, non-bool
// values are treated as unknown rather than guessed at.
func ToTruth(v zset.Value) Truth {
	if v.IsNull() {
		return TruthUnknown
	}
	if v.Kind() != zset.KindBool {
		return TruthUnknown
	}
	if v.Bool() {
		return TruthTrue
	}
	return TruthFalse
}

// Matches reports whether v satisfies a WHERE/HAVING/ON predicate:
// true only when the predicate is definitely true.
func Matches(v zset.Value) bool {
	return ToTruth(v) == TruthTrue
}

func and(a, b Truth) Truth {
	if a == TruthFalse || b == TruthFalse {
		return TruthFalse
	}
	if a == TruthTrue && b == TruthTrue {
		return TruthTrue
	}
	return TruthUnknown
}

func or(a, b Truth) Truth {
	if a == TruthTrue || b == TruthTrue {
		return TruthTrue
	}
	if a == TruthFalse && b == TruthFalse {
		return TruthFalse
	}
	return TruthUnknown
}

func truthValue(t Truth) zset.Value {
	switch t {
	case TruthTrue:
		return zset.Bool(true)
	case TruthFalse:
		return zset.Bool(false)
	default:
		return zset.Null
	}
}
