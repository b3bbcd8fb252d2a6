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

package join

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowsql/ivm/zset"
)

// Mode selects how a join side retains the rows it has indexed, per
// spec §4.3's three storage strategies.
type Mode uint8

const (
	// AppendOnly keeps only key presence, not row contents: the side is
	// fed into match-count bookkeeping (existence, EXISTS-style
	// semi-joins, COUNT) but can never be the source of a projected
	// column, since its rows are never retained.
	AppendOnly Mode = iota
	// Materialized retains full rows up to a bounded count, evicting
	// the least-recently inserted or updated row past the cap (probes
	// do not refresh a row's recency). Exceeding the cap is
	// lossy: an evicted row silently stops matching.
	Materialized
	// ExternallyIndexed delegates row storage to a PagedIndex (a
	// paginated, possibly disk/zstd-backed sink outside process
	// memory), for join sides too large to hold in an LRU.
	ExternallyIndexed
)

// PagedIndex is the ExternallyIndexed storage seam. The sink package
// provides the zstd-compressed paginated implementation; this package
// only depends on the interface; wiring a concrete PagedIndex happens
// where a Join is constructed.
type PagedIndex interface {
	Put(bucket uint64, key zset.RowKey, row zset.Row)
	Delete(bucket uint64, key zset.RowKey)
	Get(bucket uint64) map[zset.RowKey]zset.Row
	Len() int
}

// hashIndex is the "hash map from join key to the rows with that key"
// of spec §4.3, bucketed by a siphash digest of the join key's textual
// form -- the same hash-then-bucket idiom the teacher's splitter.go
// uses (`siphash.Hash(k0, k1, data)`) to partition rows by key, applied
// here to probe/insert instead of partition assignment. Accepting the
// 64-bit digest as the bucket identity (rather than re-comparing key
// text within a bucket) trades a vanishingly small collision
// probability for an O(1) probe.
type hashIndex struct {
	seed0, seed1 uint64
	mode         Mode

	buckets  map[uint64]map[zset.RowKey]zset.Row // AppendOnly: rows are zero-value placeholders. Materialized: mirrors lru's contents for bucket scans.
	bucketOf map[zset.RowKey]uint64

	lru      *lru.Cache[zset.RowKey, lruEntry] // Materialized only
	external PagedIndex                        // ExternallyIndexed only
}

type lruEntry struct {
	bucket uint64
	row    zset.Row
}

// newHashIndex builds an index in AppendOnly or Materialized mode.
// capacity is ignored outside Materialized mode.
func newHashIndex(mode Mode, capacity int) *hashIndex {
	h := &hashIndex{
		mode:     mode,
		buckets:  make(map[uint64]map[zset.RowKey]zset.Row),
		bucketOf: make(map[zset.RowKey]uint64),
	}
	h.seedRandom()
	if mode == Materialized {
		if capacity <= 0 {
			capacity = 4096
		}
		h.lru, _ = lru.NewWithEvict(capacity, func(k zset.RowKey, v lruEntry) {
			h.forgetBucket(k, v.bucket)
		})
	}
	return h
}

// newExternalIndex builds an index in ExternallyIndexed mode,
// delegating all row storage to ext.
func newExternalIndex(ext PagedIndex) *hashIndex {
	h := &hashIndex{mode: ExternallyIndexed, external: ext, bucketOf: make(map[zset.RowKey]uint64)}
	h.seedRandom()
	return h
}

func (h *hashIndex) seedRandom() {
	var seed [16]byte
	_, _ = rand.Read(seed[:])
	h.seed0 = binary.LittleEndian.Uint64(seed[:8])
	h.seed1 = binary.LittleEndian.Uint64(seed[8:])
}

func (h *hashIndex) hash(joinKeyText string) uint64 {
	return siphash.Hash(h.seed0, h.seed1, []byte(joinKeyText))
}

func (h *hashIndex) forgetBucket(k zset.RowKey, bucket uint64) {
	delete(h.buckets[bucket], k)
	if len(h.buckets[bucket]) == 0 {
		delete(h.buckets, bucket)
	}
	delete(h.bucketOf, k)
}

func (h *hashIndex) insert(sourceKey zset.RowKey, joinKeyText string, row zset.Row) {
	b := h.hash(joinKeyText)
	switch h.mode {
	case ExternallyIndexed:
		h.external.Put(b, sourceKey, row)
		h.bucketOf[sourceKey] = b
		return
	case Materialized:
		h.lru.Add(sourceKey, lruEntry{bucket: b, row: row})
		row = zset.Row{} // buckets map stores only presence; probe reads through the lru below
	case AppendOnly:
		row = zset.Row{} // count-only: presence is tracked, row contents are not
	}
	m := h.buckets[b]
	if m == nil {
		m = make(map[zset.RowKey]zset.Row)
		h.buckets[b] = m
	}
	m[sourceKey] = row
	h.bucketOf[sourceKey] = b
}

func (h *hashIndex) remove(sourceKey zset.RowKey) {
	if h.mode == ExternallyIndexed {
		if b, ok := h.bucketOf[sourceKey]; ok {
			h.external.Delete(b, sourceKey)
			delete(h.bucketOf, sourceKey)
		}
		return
	}
	if h.mode == Materialized {
		h.lru.Remove(sourceKey) // triggers forgetBucket via the eviction callback
		return
	}
	b, ok := h.bucketOf[sourceKey]
	if !ok {
		return
	}
	h.forgetBucket(sourceKey, b)
}

// probe returns every currently-indexed row sharing joinKeyText's
// bucket. In Materialized mode a row evicted by the LRU simply does
// not appear -- a documented lossy-cap tradeoff, not a bug.
func (h *hashIndex) probe(joinKeyText string) map[zset.RowKey]zset.Row {
	b := h.hash(joinKeyText)
	switch h.mode {
	case ExternallyIndexed:
		return h.external.Get(b)
	case Materialized:
		out := make(map[zset.RowKey]zset.Row, len(h.buckets[b]))
		for k := range h.buckets[b] {
			if e, ok := h.lru.Peek(k); ok {
				out[k] = e.row
			}
		}
		return out
	default:
		return h.buckets[b]
	}
}

func (h *hashIndex) len() int {
	if h.mode == ExternallyIndexed {
		return h.external.Len()
	}
	return len(h.bucketOf)
}

// scanIndex is the fallback for cross joins and ON clauses with no
// equality conjunct at all (spec §4.3: "otherwise cross-join and
// filter"): a plain table of currently-indexed rows, scanned in full
// on every probe. Join-key bucketing buys nothing without an equality
// conjunct to bucket on.
type scanIndex struct {
	rows map[zset.RowKey]zset.Row
}

func newScanIndex() *scanIndex { return &scanIndex{rows: make(map[zset.RowKey]zset.Row)} }

func (s *scanIndex) insert(k zset.RowKey, row zset.Row) { s.rows[k] = row }
func (s *scanIndex) remove(k zset.RowKey)               { delete(s.rows, k) }
func (s *scanIndex) all() map[zset.RowKey]zset.Row      { return s.rows }
func (s *scanIndex) len() int                           { return len(s.rows) }
