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

// Package source implements the keyed, upsertable input table of spec
// §4.8: applications push rows in, a source diffs each push against
// its current contents and emits a Z-set delta, and downstream views
// subscribe to that delta stream the same way they would subscribe to
// another view.
package source

import (
	"github.com/google/uuid"

	"github.com/flowsql/ivm/dbsperr"
	"github.com/flowsql/ivm/zset"
)

// largeBatchThreshold and chunkSize implement spec §4.8's "large
// batches (above ~5000 rows) are sliced into chunks of ~2000 and
// processed across cooperative yield points" contract. Push still
// returns a single combined delta to the caller (the circuit step
// invariant requires one atomic delta per push); the chunking only
// affects how long this call holds the goroutine before yielding
// internally, matched by Yield being called between chunks.
const (
	largeBatchThreshold = 5000
	chunkSize           = 2000
)

// Stats mirrors the snapshot() contract of spec §6: count, readiness,
// and enough detail for the registry to expose basic statistics.
type Stats struct {
	Count      int
	Ready      bool
	PushCount  int64
	EvictCount int64
}

// Config declares a source: its key function and optional bound.
type Config struct {
	Name string
	Key  zset.KeyFunc
	// MaxRows bounds the retained row count; 0 means unbounded. When
	// exceeded, the least recently pushed rows (a re-push of an
	// existing key moves it to the back of the queue) are silently
	// dropped from the head of the queue without emitting a delete --
	// the deliberate FIFO-eviction-without-retraction contract of
	// spec §4.8, preserved so aggregates over recent data stay stable.
	MaxRows int
	// Yield, if non-nil, is called between chunks of a large push
	// batch as the cooperative suspension point spec §5 describes.
	// Left nil in tests and in any synchronous caller that doesn't
	// need to give the executor loop a chance to interleave.
	Yield func()
}

// Source is the stateful upsert table. It is safe to use only from
// the single cooperative executor goroutine that owns the circuits
// subscribed to it, per spec §5's single-threaded model.
type Source struct {
	cfg      Config
	id       string
	rows     map[zset.RowKey]zset.Row
	order    []zset.RowKey // insertion order, oldest first; FIFO eviction pops index 0
	orderPos map[zset.RowKey]int

	subs []func(zset.Set)

	pushCount  int64
	evictCount int64
}

// New constructs a source. Returns a *dbsperr.ConfigError if cfg is
// invalid (missing name or key function), matching spec §7's
// "configuration error... raised at source construction; the owning
// object is not created."
func New(cfg Config) (*Source, error) {
	if cfg.Name == "" {
		return nil, dbsperr.Configf("Name", "source name must not be empty")
	}
	if cfg.Key == nil {
		return nil, dbsperr.Configf("Key", "source %q requires a key function", cfg.Name)
	}
	return &Source{
		cfg:      cfg,
		id:       uuid.NewString(),
		rows:     make(map[zset.RowKey]zset.Row),
		orderPos: make(map[zset.RowKey]int),
	}, nil
}

func (s *Source) Name() string { return s.cfg.Name }
func (s *Source) ID() string   { return s.id }

// Columns implements view.Upstream: a source's schema is known as soon
// as it holds at least one row. An empty source reports ready with no
// columns, since nothing has shaped it yet; the first push determines
// the schema for every view compiled against it afterward.
func (s *Source) Columns() ([]string, bool) {
	for _, row := range s.rows {
		return row.Columns(), true
	}
	return nil, true
}

// Push applies rows one at a time, in order, diffing each against the
// current contents: an existing key emits (old_row,-1) then
// (new_row,+1); a new key emits just (new_row,+1). Large batches are
// chunked per spec §4.8, yielding between chunks.
//
// A same-key retract-then-assert nets to zero weight once summed into
// a single Z-set (see zset.Set's group law), so an update's two halves
// are delivered to subscribers as two separate notifications rather
// than folded into one combined Set -- otherwise the content change
// would be invisible to downstream operators even though the row
// itself changed. The returned Set is the net combined view across
// the whole push, for callers that just want "what changed"; it can
// legitimately be empty for a push that only updated existing rows'
// content without changing membership.
func (s *Source) Push(rows []zset.Row) zset.Set {
	out := zset.New()
	if len(rows) > largeBatchThreshold {
		for start := 0; start < len(rows); start += chunkSize {
			end := start + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			out = out.Add(s.pushChunk(rows[start:end]))
			if s.cfg.Yield != nil && end < len(rows) {
				s.cfg.Yield()
			}
		}
	} else {
		out = s.pushChunk(rows)
	}
	return out
}

func (s *Source) pushChunk(rows []zset.Row) zset.Set {
	out := zset.New()
	for _, row := range rows {
		k := s.cfg.Key(row)
		s.pushCount++
		if old, had := s.rows[k]; had {
			retract := zset.FromKeyedEntries(zset.Entry{Key: k, Row: old, Weight: -1})
			s.notify(retract)
			out = out.Add(retract)
			s.rows[k] = row
			s.removeOrder(k)
			s.appendOrder(k)
		} else {
			s.rows[k] = row
			s.appendOrder(k)
		}
		assert := zset.FromKeyedEntries(zset.Entry{Key: k, Row: row, Weight: 1})
		s.notify(assert)
		out = out.Add(assert)
	}
	s.evictOverflow()
	return out
}

func (s *Source) appendOrder(k zset.RowKey) {
	s.orderPos[k] = len(s.order)
	s.order = append(s.order, k)
}

// removeOrder splices k out of the FIFO queue, re-indexing orderPos
// for everything after it. A no-op if k isn't tracked.
func (s *Source) removeOrder(k zset.RowKey) {
	pos, ok := s.orderPos[k]
	if !ok {
		return
	}
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.orderPos, k)
	for i := pos; i < len(s.order); i++ {
		s.orderPos[s.order[i]] = i
	}
}

// evictOverflow silently drops the oldest rows past MaxRows, per spec
// §4.8: no retraction is emitted. This is the one operation in the
// engine that intentionally breaks delta conservation, by design.
func (s *Source) evictOverflow() {
	if s.cfg.MaxRows <= 0 {
		return
	}
	for len(s.rows) > s.cfg.MaxRows && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.orderPos, oldest)
		for k := range s.orderPos {
			s.orderPos[k]--
		}
		delete(s.rows, oldest)
		s.evictCount++
	}
}

// Remove looks up each key; if present, emits (row,-1) and removes it
// from both the row map and the insertion-order queue.
func (s *Source) Remove(keys []zset.RowKey) zset.Set {
	out := zset.New()
	for _, k := range keys {
		row, had := s.rows[k]
		if !had {
			continue
		}
		delete(s.rows, k)
		s.removeOrder(k)
		out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: k, Row: row, Weight: -1}))
	}
	s.notify(out)
	return out
}

// Clear emits (row,-1) for every current row and resets state.
func (s *Source) Clear() zset.Set {
	out := zset.New()
	for k, row := range s.rows {
		out = out.Add(zset.FromKeyedEntries(zset.Entry{Key: k, Row: row, Weight: -1}))
	}
	s.rows = make(map[zset.RowKey]zset.Row)
	s.order = nil
	s.orderPos = make(map[zset.RowKey]int)
	s.notify(out)
	return out
}

// Subscribe registers fn for every non-empty delta this source
// produces, returning an unsubscribe function -- the same shape as
// circuit.Circuit.Subscribe, so a view can treat a source and an
// upstream view identically.
func (s *Source) Subscribe(fn func(zset.Set)) (unsubscribe func()) {
	s.subs = append(s.subs, fn)
	id := len(s.subs) - 1
	return func() { s.subs[id] = nil }
}

func (s *Source) notify(delta zset.Set) {
	if delta.IsEmpty() {
		return
	}
	for _, sub := range s.subs {
		if sub != nil {
			sub(delta)
		}
	}
}

// Snapshot reports the current state, matching spec §6's
// snapshot() -> {count, stats, ready} contract. A source is always
// ready once constructed (unlike a view, it has no upstream schema to
// wait on).
func (s *Source) Snapshot() Stats {
	return Stats{
		Count:      len(s.rows),
		Ready:      true,
		PushCount:  s.pushCount,
		EvictCount: s.evictCount,
	}
}

// Integrated returns the current materialized Z-set (every row at its
// net weight, which is always +1 for a keyed upsert table).
func (s *Source) Integrated() zset.Set {
	entries := make([]zset.Entry, 0, len(s.rows))
	for k, row := range s.rows {
		entries = append(entries, zset.Entry{Key: k, Row: row, Weight: 1})
	}
	return zset.FromKeyedEntries(entries...)
}
