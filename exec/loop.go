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

// Package exec gives spec §5's "single cooperative executor" a
// concrete Go shape: a single goroutine draining a channel of
// scheduled steps, one at a time, in submission order. Work scheduled
// here runs on this one goroutine, so operator state touched only by
// scheduled steps needs no locking of its own (spec §5's shared-
// resource policy). cmd/dbspctl schedules its Source pushes here; its
// views are built before the loop starts.
//
// The shape -- one goroutine, one channel, FIFO dispatch, no per-step
// cancellation -- is grounded on the pack's single-goroutine CDC
// dispatch loops (juju/juju's internal/changestream/stream.go,
// matrixone's cdc/reader.go), which read off a channel and fan out to
// subscribers the same way; this package drops their multi-term/tomb
// machinery since the engine has no analogous term-completion
// protocol to track.
package exec

import (
	"context"
	"sync"

	"github.com/flowsql/ivm/internal/affinity"
)

// Loop is the single executor goroutine. Steps submitted via Schedule
// run in the order they were submitted, each to completion before the
// next starts -- no step ever observes another step's partial work.
type Loop struct {
	steps  chan func()
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// New constructs a Loop with the given scheduling queue depth.
// Schedule blocks once the queue is full, applying natural backpressure
// to callers that submit faster than the loop can drain.
func New(queueDepth int) *Loop {
	if queueDepth <= 0 {
		queueDepth = affinity.QueueDepth()
	}
	return &Loop{
		steps:  make(chan func(), queueDepth),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called. It
// blocks the calling goroutine -- callers typically `go loop.Run(ctx)`
// once at startup.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case step := <-l.steps:
			step()
		}
	}
}

// Schedule enqueues fn to run on the executor goroutine. It returns
// false without enqueuing if the loop has already been stopped.
func (l *Loop) Schedule(fn func()) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.steps <- fn:
		return true
	case <-l.closed:
		return false
	}
}

// ScheduleAndWait enqueues fn and blocks until it has actually run,
// for callers (tests, a synchronous CLI driver) that need the result
// of one step before submitting the next.
func (l *Loop) ScheduleAndWait(fn func()) bool {
	wait := make(chan struct{})
	ok := l.Schedule(func() {
		defer close(wait)
		fn()
	})
	if !ok {
		return false
	}
	<-wait
	return true
}

// Stop signals Run to exit once it finishes any in-flight step, and
// waits for it to actually do so.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.closed) })
	<-l.done
}
