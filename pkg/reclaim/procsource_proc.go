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
	"strings"

	"golang.org/x/sys/unix"
)

// ProcSourceProc is an implementation of ProcSource that reads the
// process table from procfs.
type ProcSourceProc struct {
	procPath   string
	cgroupPath string
}

// NewProcSourceProc creates a ProcSource reading from /proc.
func NewProcSourceProc() *ProcSourceProc {
	return &ProcSourceProc{
		procPath:   "/proc",
		cgroupPath: "/sys/fs/cgroup",
	}
}

// ForEachTask is a method of ProcSourceProc that visits every thread
// group listed in procfs. Tasks that disappear mid-enumeration are
// skipped silently.
func (s *ProcSourceProc) ForEachTask(visit func(TaskInfo)) error {
	entries, err := os.ReadDir(s.procPath)
	if err != nil {
		return fmt.Errorf("cannot enumerate processes in %q: %w", s.procPath, err)
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		task, ok := s.readTask(pid)
		if !ok {
			continue
		}
		visit(task)
	}
	return nil
}

func (s *ProcSourceProc) readTask(pid int) (TaskInfo, bool) {
	task := TaskInfo{Pid: pid}
	adjBytes, err := os.ReadFile(s.pidFile(pid, "oom_score_adj"))
	if err != nil {
		// kernel thread without an adj file, or the process is
		// already gone
		return task, false
	}
	task.Adj, err = strconv.Atoi(strings.TrimSpace(string(adjBytes)))
	if err != nil {
		return task, false
	}
	commBytes, err := os.ReadFile(s.pidFile(pid, "comm"))
	if err != nil {
		return task, false
	}
	task.Comm = strings.TrimSpace(string(commBytes))
	statusBytes, err := os.ReadFile(s.pidFile(pid, "status"))
	if err != nil {
		return task, false
	}
	for _, line := range strings.Split(string(statusBytes), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "State":
			task.GroupExiting = strings.HasPrefix(value, "Z") || strings.HasPrefix(value, "X")
		case "CoreDumping":
			task.CoreDumping = value == "1"
		}
	}
	return task, true
}

// LockAddrSpace is a method of ProcSourceProc that pins a task's
// identity with a pidfd and snapshots its resident size. The returned
// AddrSpace keeps matching teardown reports even if the pid is reused,
// because its identity includes the process start time.
func (s *ProcSourceProc) LockAddrSpace(pid int) AddrSpace {
	starttime, ok := s.readStarttime(pid)
	if !ok {
		return nil
	}
	pages, ok := s.readResidentPages(pid)
	if !ok || pages == 0 {
		// no resident memory left, the address space is being or
		// has been torn down
		return nil
	}
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		// pidfd is an identity pin only; proceed without one on
		// kernels that do not support it
		fd = -1
	}
	return &procAddrSpace{
		id:    addrSpaceID(pid, starttime),
		pages: pages,
		fd:    fd,
	}
}

// Frozen is a method of ProcSourceProc that reports whether the task's
// cgroup is frozen.
func (s *ProcSourceProc) Frozen(pid int) bool {
	cgroup, ok := s.readCgroup(pid)
	if !ok {
		return false
	}
	frozen, err := os.ReadFile(s.cgroupPath + cgroup + "/cgroup.freeze")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(frozen)) == "1"
}

// AddrSpaceReleased is a method of ProcSourceProc that reports whether
// the task has given up its address space. A process that is gone from
// procfs has released its memory; so has a zombie, whose resident size
// reads as zero.
func (s *ProcSourceProc) AddrSpaceReleased(pid int) bool {
	pages, ok := s.readResidentPages(pid)
	return !ok || pages == 0
}

func (s *ProcSourceProc) pidFile(pid int, name string) string {
	return s.procPath + "/" + strconv.Itoa(pid) + "/" + name
}

func (s *ProcSourceProc) readResidentPages(pid int) (uint64, bool) {
	statm, err := os.ReadFile(s.pidFile(pid, "statm"))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(statm))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return pages, true
}

// readStarttime returns the process start time in clock ticks since
// boot, field 22 of the stat line. The comm field may contain spaces
// and parentheses, so fields are counted after the last ')'.
func (s *ProcSourceProc) readStarttime(pid int) (uint64, bool) {
	stat, err := os.ReadFile(s.pidFile(pid, "stat"))
	if err != nil {
		return 0, false
	}
	commEnd := strings.LastIndexByte(string(stat), ')')
	if commEnd < 0 {
		return 0, false
	}
	fields := strings.Fields(string(stat)[commEnd+1:])
	// fields[0] is the state, field 3 of the stat line
	if len(fields) < 20 {
		return 0, false
	}
	starttime, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0, false
	}
	return starttime, true
}

func (s *ProcSourceProc) readCgroup(pid int) (string, bool) {
	data, err := os.ReadFile(s.pidFile(pid, "cgroup"))
	if err != nil {
		return "", false
	}
	return cgroupV2Path(string(data))
}

// addrSpaceID combines a pid with its start time so that a recycled
// pid never matches a previous victim slot.
func addrSpaceID(pid int, starttime uint64) uint64 {
	return starttime<<22 | uint64(pid)&0x3fffff
}

type procAddrSpace struct {
	id    uint64
	pages uint64
	fd    int
}

// ID is a method of procAddrSpace.
func (a *procAddrSpace) ID() uint64 {
	return a.id
}

// ResidentPages is a method of procAddrSpace. The size is a snapshot
// taken when the address space was locked.
func (a *procAddrSpace) ResidentPages() uint64 {
	return a.pages
}

// Unlock is a method of procAddrSpace that drops the identity pin.
func (a *procAddrSpace) Unlock() {
	if a.fd >= 0 {
		_ = unix.Close(a.fd)
		a.fd = -1
	}
}
