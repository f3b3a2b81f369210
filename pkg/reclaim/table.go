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

import "sort"

// adjLimit is the highest importance value a task can have. Values are
// bucketed in the range [0, adjLimit]; negative values are protected
// and never enter the table.
const adjLimit = 1000

// defaultMaxVictims caps how many victims one reclaim cycle can select.
const defaultMaxVictims = 1024

// VictimInfo is one scanned or selected process. Size is the resident
// page count snapshotted at scan time; it is never re-read later. AS is
// the exclusive address-space hold, owned by the worker alone. ASID is
// the matching key for teardown reports; it is cleared, with a
// compare-and-swap under the read side of the victim lock, when the
// slot's report arrives.
type VictimInfo struct {
	Task TaskInfo
	AS   AddrSpace
	ASID uint64
	Size uint64
}

// scannedTask is one arena slot of the importance bucket index. Chains
// are threaded through the arena by index instead of pointers, so a
// scan does not allocate once the arena has grown to the size of the
// process table.
type scannedTask struct {
	info TaskInfo
	// next is the 1-based arena index of the next task in the same
	// bucket; 0 terminates the chain.
	next int32
}

// victimTable is fixed-capacity storage for one reclaim cycle's
// candidates plus the per-importance bucket index used while scanning.
// The engine's worker owns the table; teardown reports touch only the
// AS fields of published victim slots, under the engine's victim lock.
type victimTable struct {
	victims []VictimInfo
	// arena index 0 is reserved as the chain terminator
	arena   []scannedTask
	buckets [adjLimit + 1]int32
}

func newVictimTable(maxVictims int) *victimTable {
	return &victimTable{
		victims: make([]VictimInfo, maxVictims),
		arena:   make([]scannedTask, 1, 512),
	}
}

// beginScan recycles the arena for a new cycle. Victim slots are plain
// values that get overwritten as they are reused, and all buckets
// touched by the previous cycle were cleared before it ended.
func (t *victimTable) beginScan() {
	t.arena = t.arena[:1]
}

// bucketTask chains a scanned task into the bucket of its importance
// value.
func (t *victimTable) bucketTask(info TaskInfo) {
	idx := int32(len(t.arena))
	t.arena = append(t.arena, scannedTask{info: info, next: t.buckets[info.Adj]})
	t.buckets[info.Adj] = idx
}

// takeBucket detaches the chain stored for an importance value and
// clears the bucket for the next time reclaim is done.
func (t *victimTable) takeBucket(adj int) int32 {
	head := t.buckets[adj]
	t.buckets[adj] = 0
	return head
}

func (t *victimTable) taskAt(idx int32) *scannedTask {
	return &t.arena[idx]
}

// clearBuckets zeroes the buckets for importance values in [lo, hi].
// Used when a scan stops early and leaves buckets unvisited.
func (t *victimTable) clearBuckets(lo, hi int) {
	for adj := lo; adj <= hi; adj++ {
		t.buckets[adj] = 0
	}
}

// bucketsClear reports whether every bucket in [lo, hi] is empty.
func (t *victimTable) bucketsClear(lo, hi int) bool {
	for adj := lo; adj <= hi; adj++ {
		if t.buckets[adj] != 0 {
			return false
		}
	}
	return true
}

// sortBySizeDesc sorts victims in descending order of size to
// prioritize killing the larger ones first.
func sortBySizeDesc(victims []VictimInfo) {
	sort.SliceStable(victims, func(i, j int) bool {
		return victims[i].Size > victims[j].Size
	})
}
