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

// Package linear implements the stateless operators of spec §4.1: the
// pointwise lift of a row function over a Z-set. Each constructor
// returns a circuit.Op with no owned state, since a linear operator's
// output depends only on the current step's input delta.
package linear

import (
	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/zset"
)

// Filter keeps only rows for which pred evaluates to definitely true
// (spec §6 three-valued semantics: NULL or false excludes the row).
func Filter(pred eval.Expr, onError func(error)) circuit.Op {
	return circuit.OpFunc(func(ins []zset.Set) zset.Set {
		return ins[0].Filter(func(r zset.Row) bool {
			return eval.Matches(eval.EvalSafe(pred, r, onError))
		})
	})
}

// Project applies a row-to-row transform (a compiled SELECT list) and
// rekeys the result with keyFn.
func Project(keyFn zset.KeyFunc, fn func(zset.Row) zset.Row) circuit.Op {
	return circuit.OpFunc(func(ins []zset.Set) zset.Set {
		return ins[0].Map(keyFn, fn)
	})
}

// Union is Z-set addition: the semantics of both UNION and UNION ALL,
// since duplicates already live in the weights (spec §4.7).
func Union() circuit.Op {
	return circuit.OpFunc(func(ins []zset.Set) zset.Set {
		return ins[0].Add(ins[1])
	})
}

// Subtract is Z-set group subtraction (ins[0] - ins[1]), the building
// block EXCEPT ALL and anti-joins are expressed with.
func Subtract() circuit.Op {
	return circuit.OpFunc(func(ins []zset.Set) zset.Set {
		return ins[0].Subtract(ins[1])
	})
}
