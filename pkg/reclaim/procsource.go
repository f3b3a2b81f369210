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

// TaskInfo is an unsynchronized snapshot of one live thread group taken
// while enumerating processes. A task's importance can change while a
// scan runs; the snapshot is best-effort sampling, not a hard guarantee.
type TaskInfo struct {
	Pid  int
	Comm string
	// Adj is the task's importance: higher values are more expendable,
	// negative values are protected from reclaim.
	Adj int
	// GroupExiting is set when the whole thread group is already
	// exiting and killing it would be pointless.
	GroupExiting bool
	// CoreDumping is set while the task dumps core; such tasks are
	// skipped because the dump pins the address space.
	CoreDumping bool
}

// AddrSpace is an exclusively held reference to a task's address space.
// The identity returned by ID remains valid for matching teardown
// reports after Unlock has been called.
type AddrSpace interface {
	// ID distinguishes address spaces from each other, also across
	// pid reuse.
	ID() uint64
	// ResidentPages returns the number of resident pages.
	ResidentPages() uint64
	// Unlock releases the exclusive hold. It must be called exactly
	// once.
	Unlock()
}

// ProcSource enumerates live processes and resolves them to their
// address spaces. Implementations must tolerate processes appearing and
// disappearing at any time.
type ProcSource interface {
	// ForEachTask calls visit once for every live thread group.
	ForEachTask(visit func(TaskInfo)) error
	// LockAddrSpace resolves a task to its address space with
	// exclusive short-term access. It returns nil if the address
	// space is already gone.
	LockAddrSpace(pid int) AddrSpace
	// Frozen tells whether the task is in a frozen state. A frozen
	// task cannot be woken by a signal alone.
	Frozen(pid int) bool
	// AddrSpaceReleased tells whether the task's address space has
	// been torn down, either because the process is gone or because
	// it has given up its memory while exiting.
	AddrSpaceReleased(pid int) bool
}
