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
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// fastState is the O(1)-per-row streaming state for one partition: a
// ring buffer over the trailing frame (bounded case) or a plain
// running total (unbounded preceding), plus a monotonic deque per
// MIN/MAX so a frame slide evicts in amortized O(1) rather than
// rescanning. Valid only while a partition is append-only in
// order-by sequence -- the caller (Window.Step) is responsible for
// discarding this state the moment that stops holding.
type fastState struct {
	windowSize int // 0 = unbounded preceding
	pos        int // count of rows pushed through this state so far

	ring []zset.Value // len == windowSize, bounded case only

	sumInt   int64
	sumFloat float64
	isFloat  bool
	count    int64

	minDeque, maxDeque []dqEntry

	history []zset.Value // LAG ring, len == Offset
	histPos int
}

type dqEntry struct {
	pos int
	v   zset.Value
}

func newFastState(cfg Config) *fastState {
	fs := &fastState{}
	if cfg.Func == sqlast.WinLag {
		fs.history = make([]zset.Value, cfg.Offset)
		return fs
	}
	if cfg.Frame != nil && cfg.Frame.Start.Kind == sqlast.NPreceding {
		fs.windowSize = cfg.Frame.Start.N + 1
		fs.ring = make([]zset.Value, fs.windowSize)
	}
	return fs
}

// appendAndCompute pushes pr onto the running state and returns its
// window value. It is the single update path: building fast state
// from a partition's existing prefix calls this and discards the
// return value.
func (fs *fastState) appendAndCompute(cfg Config, pr partRow) zset.Value {
	switch cfg.Func {
	case sqlast.WinRowNumber:
		fs.pos++
		return zset.Int(int64(fs.pos))

	case sqlast.WinLag:
		val := zset.Null
		if fs.histPos >= len(fs.history) {
			val = fs.history[fs.histPos%len(fs.history)]
		}
		v, _ := cfg.Arg(pr.row)
		fs.history[fs.histPos%len(fs.history)] = v
		fs.histPos++
		return val
	}

	var v zset.Value
	if cfg.Arg != nil {
		v, _ = cfg.Arg(pr.row)
	} else {
		v = zset.Int(1) // COUNT(*): presence only, value unused by sum/min/max
	}

	var evicted zset.Value
	hadEvict := false
	if fs.windowSize > 0 {
		slot := fs.pos % fs.windowSize
		if fs.pos >= fs.windowSize {
			evicted, hadEvict = fs.ring[slot], true
		}
		fs.ring[slot] = v
	}
	fs.pos++

	if cfg.Arg == nil || !v.IsNull() {
		fs.count++
		addToSum(fs, v)
	}
	if hadEvict && (cfg.Arg == nil || !evicted.IsNull()) {
		fs.count--
		subFromSum(fs, evicted)
	}

	if cfg.Func == sqlast.WinMin || cfg.Func == sqlast.WinMax {
		return fs.slideMinMax(cfg.Func, v)
	}

	switch cfg.Func {
	case sqlast.WinCount:
		return zset.Int(fs.count)
	case sqlast.WinSum:
		if fs.count == 0 {
			return zset.Null
		}
		if fs.isFloat {
			return zset.Float(fs.sumFloat + float64(fs.sumInt))
		}
		return zset.Int(fs.sumInt)
	case sqlast.WinAvg:
		if fs.count == 0 {
			return zset.Null
		}
		return zset.Float((fs.sumFloat + float64(fs.sumInt)) / float64(fs.count))
	default:
		return zset.Null
	}
}

func addToSum(fs *fastState, v zset.Value) {
	if v.Kind() == zset.KindInt {
		fs.sumInt += v.Int()
	} else if f, ok := v.AsFloat(); ok {
		fs.isFloat = true
		fs.sumFloat += f
	}
}

func subFromSum(fs *fastState, v zset.Value) {
	if v.Kind() == zset.KindInt {
		fs.sumInt -= v.Int()
	} else if f, ok := v.AsFloat(); ok {
		fs.sumFloat -= f
	}
}

func (fs *fastState) slideMinMax(fn sqlast.WindowFunc, v zset.Value) zset.Value {
	isMin := fn == sqlast.WinMin
	dq := fs.minDeque
	if !isMin {
		dq = fs.maxDeque
	}
	if !v.IsNull() {
		for len(dq) > 0 {
			cmp, ok := dq[len(dq)-1].v.Compare(v)
			if !ok {
				break
			}
			if (isMin && cmp >= 0) || (!isMin && cmp <= 0) {
				dq = dq[:len(dq)-1]
			} else {
				break
			}
		}
		dq = append(dq, dqEntry{pos: fs.pos - 1, v: v})
	}
	if fs.windowSize > 0 {
		low := fs.pos - fs.windowSize
		for len(dq) > 0 && dq[0].pos < low {
			dq = dq[1:]
		}
	}
	if isMin {
		fs.minDeque = dq
	} else {
		fs.maxDeque = dq
	}
	if len(dq) == 0 {
		return zset.Null
	}
	return dq[0].v
}

// stepFast lazily rebuilds a partition's fast state (replaying every
// pre-existing row silently) and then applies newRows, each producing
// exactly one assert -- a trailing frame never changes an earlier
// row's value when a later row arrives, so there is nothing to
// retract.
func (w *Window) stepFast(out *zset.Set, p *partitionState, newRows []partRow) {
	if p.fast == nil {
		fs := newFastState(w.cfg)
		prefixLen := len(p.rows) - len(newRows)
		for i := 0; i < prefixLen; i++ {
			fs.appendAndCompute(w.cfg, p.rows[i])
		}
		p.fast = fs
	}
	for _, pr := range newRows {
		v := p.fast.appendAndCompute(w.cfg, pr)
		row := withColumn(pr.row, w.cfg.Alias, v)
		*out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: outIdentity(row), Row: row, Weight: 1}))
		p.lastOutputs[pr.key] = row
	}
}
