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

// Package affinity provides a small GOMAXPROCS-aware sizing hint for
// the coordinator's executor queue and the join batcher's chunk size,
// grounded on the same golang.org/x/sys/cpu low-level platform probe
// the teacher uses in vm/avx512level.go to pick a vectorized code
// path -- here the probe picks a worker-pool size hint instead of an
// instruction-set tier, but it's the same "ask the platform, then
// size something accordingly" idiom.
package affinity

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// QueueDepth recommends a scheduling-queue depth for exec.Loop: wide
// enough that a burst of pushes across GOMAXPROCS producer goroutines
// doesn't immediately block on Schedule, narrower on single-core
// environments where a deep queue would just hide backpressure.
func QueueDepth() int {
	procs := runtime.GOMAXPROCS(0)
	depth := procs * 256
	if depth < 256 {
		depth = 256
	}
	return depth
}

// WideVector reports whether the platform's SIMD width suggests a
// larger default batch size is worth it for the bulk paths (source
// large-batch chunking, join bucket scans) -- on an AVX512-capable
// x86_64 host the batch threshold can be pushed higher before the
// per-chunk fixed overhead dominates.
func WideVector() bool {
	return cpu.X86.HasAVX512F
}
