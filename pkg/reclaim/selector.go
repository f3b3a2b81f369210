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

// selectVictims minimizes the number of victims when the scan found
// more pages than the target requires. Two passes: the first releases
// candidates that are unneeded in importance order, the second re-ranks
// the survivors purely by size and releases again, so one large victim
// with a lower adj can stand in for several smaller ones with a higher
// adj. It returns the final kill count; victims beyond it have been
// released.
func (e *Engine) selectVictims(nrFound int) int {
	stats.Store(StatsHeartbeat{"Engine.selectVictims"})
	nrToKill := e.releaseUnneeded(nrFound)
	sortBySizeDesc(e.table.victims[:nrToKill])
	return e.releaseUnneeded(nrToKill)
}

// releaseUnneeded walks candidates in order and releases every one past
// the point where the running page total satisfies the target. Since
// the running total only grows, the kept candidates always form a
// prefix of the table. Releasing means relinquishing the address-space
// hold without killing.
func (e *Engine) releaseUnneeded(nrCandidates int) int {
	nrToKill := 0
	var pagesFound uint64
	for i := 0; i < nrCandidates; i++ {
		v := &e.table.victims[i]
		if pagesFound >= e.targetPages {
			v.AS.Unlock()
			v.AS = nil
			v.ASID = 0
		} else {
			pagesFound += v.Size
			nrToKill++
		}
	}
	return nrToKill
}
