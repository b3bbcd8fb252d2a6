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

package window

import (
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// recomputeGeneral rebuilds every row's window value from scratch and
// diffs against what was last emitted for this partition. This is the
// only sound path for ranking functions, and the fallback path for
// everything else whenever a delete or an out-of-order insert appears.
func (w *Window) recomputeGeneral(out *zset.Set, p *partitionState) {
	fresh := make(map[zset.RowKey]zset.Row, len(p.rows))
	for i := range p.rows {
		v := w.valueAt(p.rows, i)
		fresh[p.rows[i].key] = withColumn(p.rows[i].row, w.cfg.Alias, v)
	}
	for k := range p.lastOutputs {
		if _, still := fresh[k]; !still {
			w.emitRow(out, p, k, zset.Row{}, false)
		}
	}
	for k, row := range fresh {
		if old, had := p.lastOutputs[k]; !had || !old.Equal(row) {
			w.emitRow(out, p, k, row, true)
		}
	}
}

func (w *Window) valueAt(rows []partRow, i int) zset.Value {
	switch w.cfg.Func {
	case sqlast.WinRowNumber:
		return zset.Int(int64(i + 1))
	case sqlast.WinRank:
		return zset.Int(int64(rankAt(w, rows, i, false)))
	case sqlast.WinDenseRank:
		return zset.Int(int64(rankAt(w, rows, i, true)))
	case sqlast.WinNTile:
		n := w.cfg.Offset
		if n <= 0 {
			n = 1
		}
		bucketSize := (len(rows) + n - 1) / n
		if bucketSize == 0 {
			bucketSize = 1
		}
		return zset.Int(int64(i/bucketSize) + 1)
	case sqlast.WinPercentRank:
		if len(rows) <= 1 {
			return zset.Float(0)
		}
		r := rankAt(w, rows, i, false)
		return zset.Float(float64(r-1) / float64(len(rows)-1))
	case sqlast.WinCumeDist:
		count := i + 1
		for j := i + 1; j < len(rows) && !w.orderLess(rows[i], rows[j]); j++ {
			count++
		}
		return zset.Float(float64(count) / float64(len(rows)))
	case sqlast.WinLag:
		j := i - w.cfg.Offset
		if j < 0 {
			return zset.Null
		}
		v, _ := w.cfg.Arg(rows[j].row)
		return v
	case sqlast.WinLead:
		j := i + w.cfg.Offset
		if j >= len(rows) {
			return zset.Null
		}
		v, _ := w.cfg.Arg(rows[j].row)
		return v
	default:
		lo, hi := w.frameBounds(i, len(rows))
		return aggregateFrame(w.cfg.Func, w.cfg.Arg, rows, lo, hi)
	}
}

// rankAt returns the 1-based (dense, if requested) rank of rows[i]
// under the partition's ORDER BY.
func rankAt(w *Window, rows []partRow, i int, dense bool) int {
	rank := 1
	distinctBefore := 0
	prevDistinct := -1
	for j := 0; j < i; j++ {
		if w.orderLess(rows[j], rows[i]) {
			if dense {
				if prevDistinct < 0 || w.orderLess(rows[prevDistinct], rows[j]) {
					distinctBefore++
				}
				prevDistinct = j
			} else {
				rank++
			}
		}
	}
	if dense {
		return distinctBefore + 1
	}
	return rank
}

// orderLess compares by the ORDER BY terms only, so rows with equal
// ORDER BY values are peers (same rank) rather than tie-broken by key.
func (w *Window) orderLess(a, b partRow) bool {
	for i, term := range w.cfg.Order {
		if cmp, ok := a.order[i].Compare(b.order[i]); ok && cmp != 0 {
			return (cmp < 0) != term.Desc
		}
	}
	return false
}

func (w *Window) frameBounds(i, n int) (lo, hi int) {
	f := w.cfg.Frame
	if f == nil {
		return 0, n - 1
	}
	lo = resolveBound(f.Start, i, n)
	hi = resolveBound(f.End, i, n)
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	if lo > hi {
		lo, hi = i, i-1 // empty frame
	}
	return lo, hi
}

func resolveBound(b sqlast.FrameBound, i, n int) int {
	switch b.Kind {
	case sqlast.UnboundedPreceding:
		return 0
	case sqlast.NPreceding:
		return i - b.N
	case sqlast.CurrentRow:
		return i
	case sqlast.NFollowing:
		return i + b.N
	case sqlast.UnboundedFollowing:
		return n - 1
	default:
		return i
	}
}

func aggregateFrame(fn sqlast.WindowFunc, arg eval.Expr, rows []partRow, lo, hi int) zset.Value {
	if lo > hi {
		if fn == sqlast.WinCount {
			return zset.Int(0)
		}
		return zset.Null
	}
	var sumInt, count int64
	var sumFloat float64
	isFloat := false
	var best zset.Value
	haveBest := false
	for k := lo; k <= hi; k++ {
		if fn == sqlast.WinCount && arg == nil {
			count++
			continue
		}
		v, _ := arg(rows[k].row)
		if v.IsNull() {
			continue
		}
		count++
		switch fn {
		case sqlast.WinSum, sqlast.WinAvg:
			if v.Kind() == zset.KindInt {
				sumInt += v.Int()
			} else if f, ok := v.AsFloat(); ok {
				isFloat = true
				sumFloat += f
			}
		case sqlast.WinMin:
			if !haveBest {
				best, haveBest = v, true
			} else if cmp, ok := v.Compare(best); ok && cmp < 0 {
				best = v
			}
		case sqlast.WinMax:
			if !haveBest {
				best, haveBest = v, true
			} else if cmp, ok := v.Compare(best); ok && cmp > 0 {
				best = v
			}
		}
	}
	switch fn {
	case sqlast.WinCount:
		return zset.Int(count)
	case sqlast.WinSum:
		if count == 0 {
			return zset.Null
		}
		if isFloat {
			return zset.Float(sumFloat + float64(sumInt))
		}
		return zset.Int(sumInt)
	case sqlast.WinAvg:
		if count == 0 {
			return zset.Null
		}
		return zset.Float((sumFloat + float64(sumInt)) / float64(count))
	case sqlast.WinMin, sqlast.WinMax:
		if !haveBest {
			return zset.Null
		}
		return best
	default:
		return zset.Null
	}
}
