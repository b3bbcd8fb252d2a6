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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCoordinatorCoalescesWithinThrottleInterval(t *testing.T) {
	c := NewCoordinator(prometheus.NewRegistry())
	var versions []uint64
	c.Subscribe(func(v uint64) { versions = append(versions, v) })

	base := time.Unix(0, 0)
	c.NotifyChange()
	c.NotifyChange()
	c.NotifyChange()
	c.Tick(base)
	if len(versions) != 1 {
		t.Fatalf("expected exactly 1 broadcast for 3 coalesced notifications, got %d", len(versions))
	}

	// A second notify before the interval elapses must not fire again.
	c.NotifyChange()
	c.Tick(base.Add(c.Interval() / 2))
	if len(versions) != 1 {
		t.Fatalf("expected the throttle to suppress a broadcast inside the interval")
	}

	c.Tick(base.Add(c.Interval() + time.Millisecond))
	if len(versions) != 2 {
		t.Fatalf("expected a second broadcast once the interval elapsed, got %d", len(versions))
	}
}

func TestRecordConsumeTimeAdjustsIntervalWithinClamp(t *testing.T) {
	c := NewCoordinator(prometheus.NewRegistry())
	for i := 0; i < 32; i++ {
		c.RecordConsumeTime(200 * time.Millisecond)
	}
	if c.Interval() != maxThrottle {
		t.Fatalf("expected a 200ms p90 (+20%%) to clamp to the max throttle, got %v", c.Interval())
	}

	c2 := NewCoordinator(prometheus.NewRegistry())
	for i := 0; i < 32; i++ {
		c2.RecordConsumeTime(time.Millisecond)
	}
	if c2.Interval() != minThrottle {
		t.Fatalf("expected a 1ms p90 to clamp to the min throttle, got %v", c2.Interval())
	}
}

func TestSnapshotVersionReflectsLastBroadcast(t *testing.T) {
	c := NewCoordinator(prometheus.NewRegistry())
	if c.SnapshotVersion() != 0 {
		t.Fatalf("expected version 0 before any broadcast")
	}
	c.NotifyChange()
	c.Tick(time.Unix(0, 0))
	if c.SnapshotVersion() != 1 {
		t.Fatalf("expected version 1 after the first broadcast, got %d", c.SnapshotVersion())
	}
}
