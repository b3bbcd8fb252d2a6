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

// Package registry implements the process-wide registry and
// coordinator of spec §4.10: the registry tracks every live source and
// view's identity, name, declared upstreams, and a snapshot function;
// the coordinator coalesces the high-frequency notifyChange() calls
// those objects make into a throttled, versioned broadcast so
// observers aren't forced to consume at internal update frequency.
// Both are process-wide mutable singletons (spec §5's shared-resource
// policy) but serialize every mutation on the caller's single
// executor thread -- no internal locking is needed or present.
package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsql/ivm/dbsperr"
)

// Stats is the snapshot() shape spec §6 asks every registered object
// to expose: enough detail for an operator tool to report on a live
// engine without reaching into its internals.
type Stats struct {
	Count int
	Ready bool
}

// Entry describes one registered source or view.
type Entry struct {
	Identity  string
	Name      string
	Upstreams []string
	Snapshot  func() Stats
}

// Registry is the process-wide catalog of live sources and views.
type Registry struct {
	entries map[string]Entry // keyed by Identity, not Name: a reload creates a new identity
	metrics metrics
}

// New constructs an empty registry with its Prometheus collectors
// registered against reg. Pass prometheus.NewRegistry() in tests to
// avoid colliding with the global DefaultRegisterer across multiple
// engines in one process.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		metrics: newMetrics(reg),
	}
	return r
}

// Register adds e to the catalog. Returns a *dbsperr.ConfigError if
// e.Identity is already registered (identities are meant to be unique
// per construction, via uuid.NewString(); a collision indicates a
// caller bug, not a transient condition).
func (r *Registry) Register(e Entry) error {
	if e.Identity == "" {
		return dbsperr.Configf("Identity", "registry entries must have a non-empty identity")
	}
	if _, exists := r.entries[e.Identity]; exists {
		return dbsperr.Configf("Identity", "identity %q is already registered", e.Identity)
	}
	r.entries[e.Identity] = e
	r.metrics.registered.Inc()
	return nil
}

// Unregister removes an entry, e.g. on view Dispose().
func (r *Registry) Unregister(identity string) {
	if _, ok := r.entries[identity]; ok {
		delete(r.entries, identity)
		r.metrics.registered.Dec()
	}
}

// Lookup finds an entry by identity.
func (r *Registry) Lookup(identity string) (Entry, bool) {
	e, ok := r.entries[identity]
	return e, ok
}

// ByName returns every currently registered entry with the given
// name -- more than one when a reload has left a predecessor's
// identity registered past its replacement's construction.
func (r *Registry) ByName(name string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// All returns every currently registered entry.
func (r *Registry) All() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

type metrics struct {
	registered prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) metrics {
	m := metrics{
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ivm",
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Number of sources and views currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.registered)
	}
	return m
}

// Clamp bounds for the coordinator's adaptive throttle interval, per
// spec §4.10.
const (
	minThrottle = 16 * time.Millisecond
	maxThrottle = 200 * time.Millisecond
)
