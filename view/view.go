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

// Package view implements the named-SQL-query runtime object of spec
// §4.9: on construction it resolves every upstream (a source or
// another view) to its schema, retrying briefly if one isn't ready
// yet; once every schema is known it compiles the query into a
// circuit and subscribes to each upstream's delta stream. Every
// upstream delta is stepped through the circuit and the output delta
// both updates the view's own materialization and fans out to the
// view's own subscribers, so a downstream view sees a delta stream
// indistinguishable from a source's.
package view

import (
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/dbsperr"
	"github.com/flowsql/ivm/internal/logctx"
	"github.com/flowsql/ivm/zset"
)

// Upstream is anything a view can depend on: a source or another
// view. Both expose the same shape, which is what makes chaining
// views transparent to the compiler and to the view runtime.
type Upstream interface {
	Name() string
	Columns() ([]string, bool) // false when the schema isn't ready yet
	Subscribe(func(zset.Set)) (unsubscribe func())
	Integrated() zset.Set
}

// Builder compiles a view's query into a circuit once every
// upstream's schema is known. schemas maps each upstream name to its
// column list. It returns the circuit and the Stream whose output is
// this view's own result.
type Builder func(schemas map[string][]string) (*circuit.Circuit, circuit.Stream, error)

// Config describes one view's construction.
type Config struct {
	Name      string
	Upstreams []Upstream
	Build     Builder
	// MaxRows prunes the oldest materialized rows past this bound,
	// emitting the corresponding retractions downstream, per spec
	// §4.9. 0 means unbounded.
	MaxRows int
	// SchemaRetries/SchemaRetryBackoff bound how long construction
	// waits for every upstream to report a schema before giving up
	// and marking the view not-ready, per spec §7's "schema-not-yet-
	// ready... transient; the view retries briefly."
	SchemaRetries      int
	SchemaRetryBackoff time.Duration
}

type slot struct {
	row    zset.Row
	weight int64
}

// View is the stateful runtime object. Like Source, it is confined to
// the single cooperative executor goroutine.
type View struct {
	cfg Config
	// identity changes on every construction (spec §3's "identity
	// string... changes on each recreation" contract), distinguishing
	// two Views built from the same definition across a reload.
	identity string

	circuit  *circuit.Circuit
	resultOf circuit.Stream
	ready    bool
	compileErr error

	unsubs []func()
	subs   []func(zset.Set)

	// materialized is the insertion-ordered dense-array store named in
	// spec §4.9: array plus free-index list plus a hashmap from key to
	// (row, weight, index), giving O(1) insert/delete/iterate without
	// holes.
	array    []zset.RowKey
	freeList []int
	indexOf  map[zset.RowKey]int
	slots    map[zset.RowKey]*slot

	lru *lru.Cache[zset.RowKey, struct{}] // maxRows eviction order, nil if unbounded

	log *logctx.Once
}

// New constructs a view. It blocks briefly (bounded by
// SchemaRetries/SchemaRetryBackoff) waiting for every upstream's
// schema; if any upstream is still not ready after that, the view is
// returned in the not-ready state (Ready() == false) rather than as a
// construction error, matching spec §7's "transient" classification.
func New(cfg Config) (*View, error) {
	if cfg.Name == "" {
		return nil, dbsperr.Configf("Name", "view name must not be empty")
	}
	if cfg.Build == nil {
		return nil, dbsperr.Configf("Build", "view %q requires a Builder", cfg.Name)
	}
	if cfg.SchemaRetries == 0 {
		cfg.SchemaRetries = 5
	}
	if cfg.SchemaRetryBackoff == 0 {
		cfg.SchemaRetryBackoff = 10 * time.Millisecond
	}

	v := &View{
		cfg:      cfg,
		identity: uuid.NewString(),
		indexOf:  make(map[zset.RowKey]int),
		slots:    make(map[zset.RowKey]*slot),
		log:      logctx.NewOnce("view:" + cfg.Name),
	}
	if cfg.MaxRows > 0 {
		v.lru, _ = lru.NewWithEvict(cfg.MaxRows, func(k zset.RowKey, _ struct{}) {
			v.evict(k)
		})
	}

	schemas, ok := v.resolveSchemas()
	if !ok {
		v.log.Warnf("not ready: one or more upstreams have no schema yet")
		return v, nil
	}

	c, result, err := cfg.Build(schemas)
	if err != nil {
		v.compileErr = err
		v.log.Errorf("compile error: %v", err)
		return v, nil
	}
	v.circuit = c
	v.resultOf = result
	v.ready = true
	v.subscribeUpstreams()
	v.backload()
	return v, nil
}

func (v *View) resolveSchemas() (map[string][]string, bool) {
	schemas := make(map[string][]string, len(v.cfg.Upstreams))
	for attempt := 0; attempt <= v.cfg.SchemaRetries; attempt++ {
		allReady := true
		for _, up := range v.cfg.Upstreams {
			cols, ok := up.Columns()
			if !ok {
				allReady = false
				break
			}
			schemas[up.Name()] = cols
		}
		if allReady {
			return schemas, true
		}
		if attempt < v.cfg.SchemaRetries {
			time.Sleep(v.cfg.SchemaRetryBackoff)
		}
	}
	return nil, false
}

func (v *View) subscribeUpstreams() {
	for _, up := range v.cfg.Upstreams {
		name := up.Name()
		unsub := up.Subscribe(func(delta zset.Set) {
			v.onUpstreamDelta(name, delta)
		})
		v.unsubs = append(v.unsubs, unsub)
	}
}

// backload steps the circuit once with every upstream's full
// integrated state, so a view created after its upstreams already
// hold data starts from the correct materialization rather than empty.
func (v *View) backload() {
	in := make(map[string]zset.Set, len(v.cfg.Upstreams))
	nonEmpty := false
	for _, up := range v.cfg.Upstreams {
		d := up.Integrated()
		if !d.IsEmpty() {
			nonEmpty = true
		}
		in[up.Name()] = d
	}
	if !nonEmpty {
		return
	}
	v.circuit.Step(in)
	v.apply(v.circuit.Output(v.resultOf))
}

func (v *View) onUpstreamDelta(name string, delta zset.Set) {
	if !v.ready {
		return
	}
	v.circuit.Step(map[string]zset.Set{name: delta})
	v.apply(v.circuit.Output(v.resultOf))
}

// apply integrates a delta into the materialization and forwards it
// to subscribers, then applies maxRows pruning.
func (v *View) apply(delta zset.Set) {
	if delta.IsEmpty() {
		return
	}
	delta.Entries(func(e zset.Entry) bool {
		v.applyEntry(e)
		return true
	})
	v.notify(delta)
}

func (v *View) applyEntry(e zset.Entry) {
	s, had := v.slots[e.Key]
	if !had {
		if e.Weight <= 0 {
			return
		}
		idx := v.alloc(e.Key)
		v.slots[e.Key] = &slot{row: e.Row, weight: e.Weight}
		v.indexOf[e.Key] = idx
		if v.lru != nil {
			v.lru.Add(e.Key, struct{}{})
		}
		return
	}
	s.weight += e.Weight
	if e.Weight > 0 {
		s.row = e.Row
	}
	if s.weight <= 0 {
		v.free(e.Key)
		if v.lru != nil {
			v.lru.Remove(e.Key)
		}
	}
}

func (v *View) alloc(k zset.RowKey) int {
	if n := len(v.freeList); n > 0 {
		idx := v.freeList[n-1]
		v.freeList = v.freeList[:n-1]
		v.array[idx] = k
		return idx
	}
	v.array = append(v.array, k)
	return len(v.array) - 1
}

func (v *View) free(k zset.RowKey) {
	idx, ok := v.indexOf[k]
	if !ok {
		return
	}
	delete(v.indexOf, k)
	delete(v.slots, k)
	v.freeList = append(v.freeList, idx)
}

// evict is the LRU eviction callback for maxRows pruning: it silently
// drops the row from the materialization and emits the corresponding
// retraction downstream, per spec §4.9.
func (v *View) evict(k zset.RowKey) {
	s, had := v.slots[k]
	if !had {
		return
	}
	v.free(k)
	v.notify(zset.FromKeyedEntries(zset.Entry{Key: k, Row: s.row, Weight: -s.weight}))
}

func (v *View) notify(delta zset.Set) {
	for _, sub := range v.subs {
		if sub != nil {
			sub(delta)
		}
	}
}

// Name, Columns, Subscribe, Integrated implement Upstream so a view
// can itself be the upstream of another view (chaining, spec §4.9's
// closing sentence).
func (v *View) Name() string { return v.cfg.Name }

func (v *View) Columns() ([]string, bool) {
	if !v.ready {
		return nil, false
	}
	for _, r := range v.slots {
		return r.row.Columns(), true
	}
	return nil, true // ready but currently empty: no row to derive columns from yet
}

func (v *View) Subscribe(fn func(zset.Set)) (unsubscribe func()) {
	v.subs = append(v.subs, fn)
	id := len(v.subs) - 1
	return func() { v.subs[id] = nil }
}

func (v *View) Integrated() zset.Set {
	entries := make([]zset.Entry, 0, len(v.slots))
	for k, s := range v.slots {
		entries = append(entries, zset.Entry{Key: k, Row: s.row, Weight: s.weight})
	}
	return zset.FromKeyedEntries(entries...)
}

// Ready reports whether the view successfully compiled and is
// actively processing upstream deltas.
func (v *View) Ready() bool { return v.ready }

// CompileErr returns the compile error that kept the view not-ready,
// if any.
func (v *View) CompileErr() error { return v.compileErr }

// Identity is the spec §3 identity string: a fresh value per
// construction, so a reloaded view with the same name is
// distinguishable from its predecessor.
func (v *View) Identity() string { return v.identity }

// Results returns every currently materialized row in array-slot
// order (free-list holes skipped). A new row reuses a freed slot
// first, so after a removal this is not insertion order.
func (v *View) Results() []zset.Row {
	out := make([]zset.Row, 0, len(v.array)-len(v.freeList))
	for _, k := range v.array {
		if s, ok := v.slots[k]; ok {
			out = append(out, s.row)
		}
	}
	return out
}

// Count returns the number of currently materialized rows.
func (v *View) Count() int { return len(v.slots) }

// Dispose releases all operator state and unsubscribes from every
// upstream, per spec §5's "disposal... releases all operator state
// and unsubscribes from upstreams; pending timers are cancelled."
func (v *View) Dispose() {
	for _, unsub := range v.unsubs {
		if unsub != nil {
			unsub()
		}
	}
	v.unsubs = nil
	v.subs = nil
	if v.circuit != nil {
		v.circuit.Reset()
	}
	v.array = nil
	v.freeList = nil
	v.indexOf = make(map[zset.RowKey]int)
	v.slots = make(map[zset.RowKey]*slot)
}
