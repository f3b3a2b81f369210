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

// findVictims populates the victim table with kill candidates ordered
// by importance bucket and, within a bucket, by descending size. It
// returns the number of candidates stored and the total pages found.
//
// Buckets are walked from the most expendable importance down, and the
// walk stops as soon as either the table is full or enough pages have
// been found, so processes that would never be killed are not even
// sized. Every bucket is cleared on the way, visited or not, keeping
// the table safe to reuse in the next cycle.
func (e *Engine) findVictims() (int, uint64) {
	stats.Store(StatsHeartbeat{"Engine.findVictims"})
	t := e.table
	t.beginScan()

	minAdj, maxAdj := adjLimit+1, -1
	err := e.proc.ForEachTask(func(task TaskInfo) {
		// Only tasks with a non-negative adj can be targeted, which
		// naturally excludes protected tasks. Exiting groups and
		// core dumpers are skipped as well.
		if task.Adj < 0 || task.Adj > adjLimit ||
			task.GroupExiting || task.CoreDumping {
			return
		}
		t.bucketTask(task)
		if task.Adj > maxAdj {
			maxAdj = task.Adj
		}
		if task.Adj < minAdj {
			minAdj = task.Adj
		}
	})
	if err != nil {
		// Proceed with whatever was bucketed before the failure.
		log.Errorf("Engine: process enumeration failed: %v\n", err)
	}
	if maxAdj < 0 {
		return 0, 0
	}

	nrFound := 0
	var pagesFound uint64
	// Start searching for victims from the highest adj (least
	// important).
	for adj := maxAdj; adj >= minAdj; adj-- {
		head := t.takeBucket(adj)
		if head == 0 {
			continue
		}
		oldNrFound := nrFound
		for it := head; it != 0; it = t.taskAt(it).next {
			task := t.taskAt(it).info
			as := e.proc.LockAddrSpace(task.Pid)
			if as == nil {
				// the address space is already gone
				continue
			}
			v := &t.victims[nrFound]
			v.Task = task
			v.AS = as
			v.ASID = as.ID()
			v.Size = as.ResidentPages()
			pagesFound += v.Size
			nrFound++
			if nrFound == len(t.victims) {
				break
			}
		}
		if nrFound == oldNrFound {
			continue
		}
		// Rank same-importance peers by size so the larger ones are
		// killed first.
		sortBySizeDesc(t.victims[oldNrFound:nrFound])
		if nrFound == len(t.victims) || pagesFound >= e.targetPages {
			// Zero out any remaining buckets we did not visit.
			if adj > minAdj {
				t.clearBuckets(minAdj, adj-1)
			}
			break
		}
	}
	return nrFound, pagesFound
}
