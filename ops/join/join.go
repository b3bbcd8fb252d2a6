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

// Package join implements the equi-join and outer-join operators of
// spec §4.3 -- the trickiest stateful operator in the engine. A Join
// keeps one hash index per side (append-only, materialized-and-capped,
// or externally-paginated, per Mode) and maintains, for outer joins, a
// per-row match count used to retract/assert the null-extended row as
// that count crosses zero.
package join

import (
	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// sideIndex is the storage seam a Join probes and maintains; hashIndex
// satisfies it directly, scanAdapter adapts scanIndex for ON clauses
// with no equality conjunct at all.
type sideIndex interface {
	insert(k zset.RowKey, joinKeyText string, row zset.Row)
	remove(k zset.RowKey)
	probe(joinKeyText string) map[zset.RowKey]zset.Row
	len() int
}

type scanAdapter struct{ *scanIndex }

func (a scanAdapter) insert(k zset.RowKey, _ string, row zset.Row) { a.scanIndex.insert(k, row) }
func (a scanAdapter) probe(_ string) map[zset.RowKey]zset.Row      { return a.scanIndex.all() }

// Config describes one join node's wiring: how each side is indexed,
// what equates two rows, what residual predicate (a non-equi or
// composite ON clause's remainder) further filters candidates, and how
// a matched pair becomes the output row.
type Config struct {
	Kind sqlast.JoinKind

	LeftMode, RightMode         Mode
	LeftCapacity, RightCapacity int         // Materialized only
	LeftExternal, RightExternal PagedIndex // ExternallyIndexed only

	// LeftJoinKey/RightJoinKey are the compiled equality conjuncts of
	// the ON clause, evaluated pairwise (LeftJoinKey[i] against the
	// left row, RightJoinKey[i] against the right row). Nil/empty
	// means the ON clause has no top-level equality conjunct at all,
	// so the join falls back to a full cross-scan (spec §4.3).
	LeftJoinKey, RightJoinKey []eval.Expr

	// Residual is evaluated over the merged candidate row (spec
	// §4.3's two-phase strategy: narrow by the equality conjunct,
	// then apply whatever the ON clause still demands -- a BETWEEN,
	// an inequality, an arbitrary boolean expression). Nil means the
	// equality conjunct is the entire ON clause.
	Residual eval.Expr

	// Project builds the output row from a matched (or, for outer
	// joins, null-extended) pair. lok/rok are false exactly when that
	// side is the synthetic NULL row of an unmatched outer-join pair.
	Project func(l zset.Row, lok bool, r zset.Row, rok bool) zset.Row
	OutKey  zset.KeyFunc
}

// Join is the stateful operator; inputs[0] is the left delta,
// inputs[1] the right delta.
type Join struct {
	cfg Config

	left, right sideIndex

	// leftRows/rightRows retain the current contents of every
	// currently-present row on the preserved side of an outer join,
	// independent of the index storage mode above, since null
	// extension needs the row itself even when the opposite side's
	// index is AppendOnly.
	leftRows, rightRows   map[zset.RowKey]zset.Row
	leftMatch, rightMatch map[zset.RowKey]int64
}

func New(cfg Config) *Join {
	j := &Join{
		cfg:        cfg,
		leftRows:   make(map[zset.RowKey]zset.Row),
		rightRows:  make(map[zset.RowKey]zset.Row),
		leftMatch:  make(map[zset.RowKey]int64),
		rightMatch: make(map[zset.RowKey]int64),
	}
	j.left = newSide(cfg.LeftMode, cfg.LeftCapacity, cfg.LeftExternal, len(cfg.LeftJoinKey) > 0)
	j.right = newSide(cfg.RightMode, cfg.RightCapacity, cfg.RightExternal, len(cfg.RightJoinKey) > 0)
	return j
}

func newSide(mode Mode, capacity int, ext PagedIndex, hasEqui bool) sideIndex {
	if !hasEqui {
		return scanAdapter{newScanIndex()}
	}
	if mode == ExternallyIndexed {
		return newExternalIndex(ext)
	}
	return newHashIndex(mode, capacity)
}

func (j *Join) Reset() {
	*j = *New(j.cfg)
}

// joinText evaluates the compiled equality-conjunct expressions
// against row, returning the composite key text and whether any
// component evaluated to NULL (in which case the row can never match
// via equality, per SQL join semantics -- a NULL join key matches
// nothing, including another NULL).
func joinText(exprs []eval.Expr, row zset.Row) (text string, matchable bool) {
	if len(exprs) == 0 {
		return "", true
	}
	vals := make([]zset.Value, len(exprs))
	for i, e := range exprs {
		v, err := e(row)
		if err != nil || v.IsNull() {
			return "", false
		}
		vals[i] = v
	}
	return zset.NewRowKey(vals...).String(), true
}

func (j *Join) outer() bool {
	return j.cfg.Kind == sqlast.LeftJoin || j.cfg.Kind == sqlast.RightJoin || j.cfg.Kind == sqlast.FullJoin
}

func (j *Join) preservesLeft() bool {
	return j.cfg.Kind == sqlast.LeftJoin || j.cfg.Kind == sqlast.FullJoin
}

func (j *Join) preservesRight() bool {
	return j.cfg.Kind == sqlast.RightJoin || j.cfg.Kind == sqlast.FullJoin
}

func (j *Join) residualOK(l, r zset.Row) bool {
	if j.cfg.Residual == nil {
		return true
	}
	merged := l.Merge(r)
	return eval.Matches(eval.EvalSafe(j.cfg.Residual, merged, nil))
}

func (j *Join) emit(out *zset.Set, l zset.Row, lok bool, r zset.Row, rok bool, weight int64) {
	if weight == 0 {
		return
	}
	row := j.cfg.Project(l, lok, r, rok)
	*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: j.cfg.OutKey(row), Row: row, Weight: weight}))
}

// Step implements spec §4.3's four-phase update, in the order that
// prevents a new-left-row/new-right-row pair from being double
// counted: deletions are retracted against the pre-step indexes first,
// then (a) new right rows probe the left index before it has absorbed
// any of this step's left insertions, (b) new right rows are inserted
// into the right index, (c) new left rows probe the now-updated right
// index (so a genuinely new/new pair matches exactly once, here), and
// finally (d) new left rows are inserted into the left index.
func (j *Join) Step(inputs []zset.Set) zset.Set {
	out := zset.New()
	dl, dr := inputs[0], inputs[1]

	dl.Entries(func(e zset.Entry) bool {
		if e.Weight < 0 {
			j.retractLeft(&out, e)
		}
		return true
	})
	dr.Entries(func(e zset.Entry) bool {
		if e.Weight < 0 {
			j.retractRight(&out, e)
		}
		return true
	})

	dr.Entries(func(e zset.Entry) bool {
		if e.Weight > 0 {
			j.probeNewRight(&out, e)
		}
		return true
	})
	dr.Entries(func(e zset.Entry) bool {
		if e.Weight > 0 {
			j.insertRight(&out, e)
		}
		return true
	})
	dl.Entries(func(e zset.Entry) bool {
		if e.Weight > 0 {
			j.probeNewLeft(&out, e)
		}
		return true
	})
	dl.Entries(func(e zset.Entry) bool {
		if e.Weight > 0 {
			j.insertLeft(&out, e)
		}
		return true
	})

	return out
}

func (j *Join) retractLeft(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.LeftJoinKey, e.Row)
	var candidates map[zset.RowKey]zset.Row
	if matchable {
		candidates = j.right.probe(text)
	}
	for rk, rrow := range candidates {
		if !j.residualOK(e.Row, rrow) {
			continue
		}
		j.emit(out, e.Row, true, rrow, true, e.Weight)
		if j.preservesRight() {
			j.rightMatch[rk]--
			if j.rightMatch[rk] == 0 {
				j.emit(out, zset.Row{}, false, rrow, true, 1)
			}
		}
	}
	j.left.remove(e.Key)
	prevCount, hadMatch := j.leftMatch[e.Key]
	delete(j.leftMatch, e.Key)
	oldRow, hadRow := j.leftRows[e.Key]
	delete(j.leftRows, e.Key)
	if j.preservesLeft() && hadMatch && prevCount == 0 && hadRow {
		j.emit(out, oldRow, true, zset.Row{}, false, -1)
	}
}

func (j *Join) retractRight(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.RightJoinKey, e.Row)
	var candidates map[zset.RowKey]zset.Row
	if matchable {
		candidates = j.left.probe(text)
	}
	for lk, lrow := range candidates {
		if !j.residualOK(lrow, e.Row) {
			continue
		}
		j.emit(out, lrow, true, e.Row, true, e.Weight)
		if j.preservesLeft() {
			j.leftMatch[lk]--
			if j.leftMatch[lk] == 0 {
				j.emit(out, lrow, true, zset.Row{}, false, 1)
			}
		}
	}
	j.right.remove(e.Key)
	prevCount, hadMatch := j.rightMatch[e.Key]
	delete(j.rightMatch, e.Key)
	oldRow, hadRow := j.rightRows[e.Key]
	delete(j.rightRows, e.Key)
	if j.preservesRight() && hadMatch && prevCount == 0 && hadRow {
		j.emit(out, zset.Row{}, false, oldRow, true, -1)
	}
}

func (j *Join) probeNewRight(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.RightJoinKey, e.Row)
	var matched int64
	if matchable {
		for lk, lrow := range j.left.probe(text) {
			if !j.residualOK(lrow, e.Row) {
				continue
			}
			j.emit(out, lrow, true, e.Row, true, e.Weight)
			matched++
			if j.preservesLeft() {
				before := j.leftMatch[lk]
				j.leftMatch[lk] = before + e.Weight
				if before == 0 && j.leftMatch[lk] > 0 {
					j.emit(out, lrow, true, zset.Row{}, false, -1)
				}
			}
		}
	}
	if j.preservesRight() {
		j.rightMatch[e.Key] += matched
	}
}

func (j *Join) insertRight(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.RightJoinKey, e.Row)
	if matchable {
		j.right.insert(e.Key, text, e.Row)
	}
	if j.preservesRight() {
		j.rightRows[e.Key] = e.Row
		if j.rightMatch[e.Key] == 0 {
			j.emit(out, zset.Row{}, false, e.Row, true, 1)
		}
	}
}

func (j *Join) probeNewLeft(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.LeftJoinKey, e.Row)
	var matched int64
	if matchable {
		for rk, rrow := range j.right.probe(text) {
			if !j.residualOK(e.Row, rrow) {
				continue
			}
			j.emit(out, e.Row, true, rrow, true, e.Weight)
			matched++
			if j.preservesRight() {
				before := j.rightMatch[rk]
				j.rightMatch[rk] = before + e.Weight
				if before == 0 && j.rightMatch[rk] > 0 {
					j.emit(out, zset.Row{}, false, rrow, true, -1)
				}
			}
		}
	}
	if j.preservesLeft() {
		j.leftMatch[e.Key] += matched
	}
}

func (j *Join) insertLeft(out *zset.Set, e zset.Entry) {
	text, matchable := joinText(j.cfg.LeftJoinKey, e.Row)
	if matchable {
		j.left.insert(e.Key, text, e.Row)
	}
	if j.preservesLeft() {
		j.leftRows[e.Key] = e.Row
		if j.leftMatch[e.Key] == 0 {
			j.emit(out, e.Row, true, zset.Row{}, false, 1)
		}
	}
}

var _ circuit.Op = (*Join)(nil)
var _ circuit.Resettable = (*Join)(nil)
