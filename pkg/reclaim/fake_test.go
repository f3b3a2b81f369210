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
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTask is one process in a fakeSource's process table.
type fakeTask struct {
	info     TaskInfo
	pages    uint64
	frozen   bool
	gone     bool // address space disappears before it can be locked
	released bool // address space has been torn down
}

// fakeSource is an in-memory ProcSource for tests.
type fakeSource struct {
	mutex   sync.Mutex
	tasks   []*fakeTask
	scans   atomic.Int32
	unlocks map[int]int
	// gate, when set, blocks enumeration until the channel is
	// closed, to hold a reclaim cycle open mid-scan.
	gate chan struct{}
}

func newFakeSource(tasks ...*fakeTask) *fakeSource {
	return &fakeSource{tasks: tasks, unlocks: map[int]int{}}
}

func (s *fakeSource) ForEachTask(visit func(TaskInfo)) error {
	s.scans.Add(1)
	s.mutex.Lock()
	gate := s.gate
	s.mutex.Unlock()
	if gate != nil {
		<-gate
	}
	s.mutex.Lock()
	tasks := append([]*fakeTask{}, s.tasks...)
	s.mutex.Unlock()
	for _, task := range tasks {
		visit(task.info)
	}
	return nil
}

func (s *fakeSource) LockAddrSpace(pid int) AddrSpace {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task := s.findLocked(pid)
	if task == nil || task.gone {
		return nil
	}
	return &fakeAddrSpace{id: uint64(pid), pages: task.pages, src: s, pid: pid}
}

func (s *fakeSource) Frozen(pid int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task := s.findLocked(pid)
	return task != nil && task.frozen
}

func (s *fakeSource) AddrSpaceReleased(pid int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task := s.findLocked(pid)
	return task == nil || task.released
}

func (s *fakeSource) release(pid int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if task := s.findLocked(pid); task != nil {
		task.released = true
	}
}

func (s *fakeSource) setGate(gate chan struct{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.gate = gate
}

func (s *fakeSource) unlockCount(pid int) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.unlocks[pid]
}

func (s *fakeSource) findLocked(pid int) *fakeTask {
	for _, task := range s.tasks {
		if task.info.Pid == pid {
			return task
		}
	}
	return nil
}

type fakeAddrSpace struct {
	id    uint64
	pages uint64
	src   *fakeSource
	pid   int
}

func (a *fakeAddrSpace) ID() uint64            { return a.id }
func (a *fakeAddrSpace) ResidentPages() uint64 { return a.pages }
func (a *fakeAddrSpace) Unlock() {
	a.src.mutex.Lock()
	defer a.src.mutex.Unlock()
	a.src.unlocks[a.pid]++
}

// fakeKiller records the termination primitives the engine decides to
// invoke, in order. When reap is set, a killed task's address space is
// marked released so the teardown watcher can confirm it.
type fakeKiller struct {
	mutex  sync.Mutex
	events []string
	reap   *fakeSource
}

func (k *fakeKiller) record(event string, pid int) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.events = append(k.events, fmt.Sprintf("%s:%d", event, pid))
}

func (k *fakeKiller) Kill(task TaskInfo) error {
	k.record("kill", task.Pid)
	if k.reap != nil {
		k.reap.release(task.Pid)
	}
	return nil
}

func (k *fakeKiller) ExpediteTeardown(task TaskInfo) error {
	k.record("expedite", task.Pid)
	return nil
}

func (k *fakeKiller) Thaw(task TaskInfo) error {
	k.record("thaw", task.Pid)
	return nil
}

func (k *fakeKiller) RaiseWorkerPriority() error { return nil }

func (k *fakeKiller) eventList() []string {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return append([]string{}, k.events...)
}

// task builds a fakeTask with the given pid, importance and resident
// page count.
func task(pid, adj int, pages uint64) *fakeTask {
	return &fakeTask{
		info:  TaskInfo{Pid: pid, Comm: fmt.Sprintf("task-%d", pid), Adj: adj},
		pages: pages,
	}
}

// newTestEngine builds an engine around a fake source and killer with a
// page-count target and the built-in teardown watcher disabled.
func newTestEngine(t *testing.T, src ProcSource, killer Killer, targetPages uint64, timeoutMs, maxVictims int) *Engine {
	t.Helper()
	e := NewEngine(src, killer)
	err := e.SetConfig(&EngineConfig{
		MinFree:    strconv.FormatUint(targetPages*uint64(os.Getpagesize()), 10),
		TimeoutMs:  timeoutMs,
		MaxVictims: maxVictims,
	})
	require.NoError(t, err)
	return e
}
