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

package registry

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// consumeWindow bounds how many recent record-consume-time samples
// the adaptive throttle's percentile is computed over. Old samples
// age out so the throttle tracks recent observer behavior rather than
// a lifetime average.
const consumeWindow = 32

// Coordinator is the single notification hub of spec §4.10: any
// source or view that changes state calls NotifyChange; the
// coordinator coalesces notifications via an adaptive throttle and
// broadcasts a monotonically increasing version to every subscriber
// at most once per throttle interval.
//
// Coordinator owns a timer but is driven entirely by calls from the
// single cooperative executor goroutine (spec §5) -- Tick must be
// called from that same goroutine's loop, typically right after
// stepping any circuits, so no internal locking is required.
type Coordinator struct {
	version   uint64
	pending   bool
	lastFired time.Time
	interval  time.Duration

	samples []time.Duration // ring buffer of recent consume durations
	sampleAt int

	subs []func(uint64)

	metrics coordinatorMetrics
}

// NewCoordinator constructs a coordinator with its throttle interval
// seeded at the minimum clamp, widening only once consume-time
// samples arrive.
func NewCoordinator(reg prometheus.Registerer) *Coordinator {
	return &Coordinator{
		interval: minThrottle,
		samples:  make([]time.Duration, 0, consumeWindow),
		metrics:  newCoordinatorMetrics(reg),
	}
}

// NotifyChange marks a pending broadcast. It does not itself fire the
// broadcast -- that happens the next time Tick observes the throttle
// interval has elapsed since the last broadcast, coalescing any
// number of NotifyChange calls within one interval into one version
// bump.
func (c *Coordinator) NotifyChange() {
	c.pending = true
	c.metrics.notified.Inc()
}

// Tick is called once per executor loop iteration (spec §5's
// cooperative scheduling point). If a change is pending and at least
// one throttle interval has elapsed since the last broadcast, it
// bumps the version and notifies every subscriber. now is passed in
// rather than read from the clock so the coordinator stays
// deterministic and testable.
func (c *Coordinator) Tick(now time.Time) {
	if !c.pending {
		return
	}
	if !c.lastFired.IsZero() && now.Sub(c.lastFired) < c.interval {
		return
	}
	c.pending = false
	c.lastFired = now
	c.version++
	c.metrics.version.Set(float64(c.version))
	for _, sub := range c.subs {
		if sub != nil {
			sub(c.version)
		}
	}
}

// Subscribe registers fn to be called with the new version on every
// broadcast.
func (c *Coordinator) Subscribe(fn func(version uint64)) (unsubscribe func()) {
	c.subs = append(c.subs, fn)
	id := len(c.subs) - 1
	return func() { c.subs[id] = nil }
}

// SnapshotVersion returns the most recently broadcast version.
func (c *Coordinator) SnapshotVersion() uint64 { return c.version }

// RecordConsumeTime feeds one observer's render/consume duration into
// the adaptive throttle: the interval is recomputed as that window's
// 90th percentile plus a 20% buffer, clamped to [16ms, 200ms].
func (c *Coordinator) RecordConsumeTime(d time.Duration) {
	if len(c.samples) < consumeWindow {
		c.samples = append(c.samples, d)
	} else {
		c.samples[c.sampleAt] = d
		c.sampleAt = (c.sampleAt + 1) % consumeWindow
	}
	c.interval = computeInterval(c.samples)
	c.metrics.interval.Set(c.interval.Seconds())
}

func computeInterval(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return minThrottle
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) * 90) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p90 := sorted[idx]
	buffered := p90 + p90/5 // +20%
	if buffered < minThrottle {
		return minThrottle
	}
	if buffered > maxThrottle {
		return maxThrottle
	}
	return buffered
}

// Interval reports the coordinator's current throttle interval, for
// tests and for the registry's own diagnostics surface.
func (c *Coordinator) Interval() time.Duration { return c.interval }

type coordinatorMetrics struct {
	notified prometheus.Counter
	version  prometheus.Gauge
	interval prometheus.Gauge
}

func newCoordinatorMetrics(reg prometheus.Registerer) coordinatorMetrics {
	m := coordinatorMetrics{
		notified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivm",
			Subsystem: "coordinator",
			Name:      "notify_total",
			Help:      "Number of NotifyChange calls coalesced by the coordinator.",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ivm",
			Subsystem: "coordinator",
			Name:      "version",
			Help:      "Most recently broadcast coordinator version.",
		}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ivm",
			Subsystem: "coordinator",
			Name:      "throttle_interval_seconds",
			Help:      "Current adaptive throttle interval.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.notified, m.version, m.interval)
	}
	return m
}
