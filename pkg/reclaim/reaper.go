// Copyright 2024 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reclaim

import (
	"sync/atomic"
	"time"
)

type reapTarget struct {
	pid int
	id  uint64
}

// watchTeardown starts a poller that observes the current cycle's
// victims giving up their address spaces and reports each teardown to
// AddrSpaceFreed. Disabled when ReapIntervalMs is zero: then an
// external reporter is expected to deliver the confirmations.
func (e *Engine) watchTeardown(nrToKill int) {
	interval := time.Duration(e.config.ReapIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	pending := make([]reapTarget, 0, nrToKill)
	for i := 0; i < nrToKill; i++ {
		v := &e.table.victims[i]
		// A zero id means the victim was already confirmed by an
		// earlier report.
		if id := atomic.LoadUint64(&v.ASID); id != 0 {
			pending = append(pending, reapTarget{pid: v.Task.Pid, id: id})
		}
	}
	if len(pending) == 0 {
		return
	}
	// The poller gives up at the same moment the worker stops
	// waiting; a late report after the cycle reset would be a benign
	// no-op anyway.
	deadline := time.Now().Add(e.timeout)
	go e.reapLoop(pending, interval, deadline)
}

func (e *Engine) reapLoop(pending []reapTarget, interval time.Duration, deadline time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		undead := pending[:0]
		for _, target := range pending {
			if e.proc.AddrSpaceReleased(target.pid) {
				stats.Store(StatsHeartbeat{"Engine.reap"})
				e.AddrSpaceFreed(target.id)
			} else {
				undead = append(undead, target)
			}
		}
		pending = undead
		if len(pending) == 0 || time.Now().After(deadline) {
			return
		}
	}
}
