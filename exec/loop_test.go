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

package exec

import (
	"context"
	"testing"
	"time"
)

func TestLoopRunsStepsInOrder(t *testing.T) {
	l := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.ScheduleAndWait(func() { order = append(order, i) })
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected steps to run in submission order, got %v", order)
		}
	}
}

func TestScheduleAfterStopReturnsFalse(t *testing.T) {
	l := New(4)
	ctx := context.Background()
	go l.Run(ctx)
	l.Stop()

	if l.Schedule(func() {}) {
		t.Fatalf("expected Schedule to fail after Stop")
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	l := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(runDone)
	}()
	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to exit promptly after context cancellation")
	}
}
