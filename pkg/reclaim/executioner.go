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
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Killer supplies the process-termination primitives that the engine
// invokes on selected victims. Its effects are irreversible; there is
// no undo.
type Killer interface {
	// Kill force-delivers a kill signal that cannot be blocked or
	// ignored.
	Kill(task TaskInfo) error
	// ExpediteTeardown marks the victim's thread group as dying and
	// elevates every thread in it to realtime scheduling with full
	// CPU affinity, so that whichever thread ends up releasing the
	// address space cannot be starved.
	ExpediteTeardown(task TaskInfo) error
	// Thaw wakes a frozen victim; a delivered signal alone cannot.
	Thaw(task TaskInfo) error
	// RaiseWorkerPriority elevates the calling thread so that the
	// reclaim worker itself is never starved under pressure.
	RaiseWorkerPriority() error
}

// minRTPriority is the lowest realtime priority level; elevating
// victims there is enough to outrun every normal task without competing
// with the reclaim worker.
const minRTPriority = 1

// maxRTPriority is the priority the reclaim worker runs at.
const maxRTPriority = 99

// KillerProc is the Linux implementation of Killer built on signals,
// the scheduler syscalls and procfs.
type KillerProc struct {
	procPath   string
	cgroupPath string
}

// NewKillerProc creates a Killer operating on the running system.
func NewKillerProc() *KillerProc {
	return &KillerProc{
		procPath:   "/proc",
		cgroupPath: "/sys/fs/cgroup",
	}
}

// Kill is a method of KillerProc. SIGKILL cannot be caught, blocked or
// ignored, so plain delivery is already forced.
func (k *KillerProc) Kill(task TaskInfo) error {
	if err := unix.Kill(task.Pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", task.Pid, err)
	}
	return nil
}

// ExpediteTeardown is a method of KillerProc. The whole thread group is
// elevated because there is no telling which thread will put the final
// reference to the address space and release its memory; if that
// happens on a deprioritized thread, teardown can stall indefinitely.
func (k *KillerProc) ExpediteTeardown(task TaskInfo) error {
	// Let the kernel's own OOM path see the group as the preferred
	// casualty while it dies.
	adjPath := k.procPath + "/" + strconv.Itoa(task.Pid) + "/oom_score_adj"
	_ = os.WriteFile(adjPath, []byte("1000"), 0644)

	tids, err := k.threadGroup(task.Pid)
	if err != nil {
		return err
	}
	var allCPUs unix.CPUSet
	for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
		allCPUs.Set(cpu)
	}
	for _, tid := range tids {
		// The thread may exit at any point; per-thread errors are
		// not failures of the teardown as a whole.
		if err := schedSetScheduler(tid, unix.SCHED_RR, minRTPriority); err != nil {
			log.Debugf("KillerProc: elevate tid %d: %v\n", tid, err)
		}
		if err := unix.SchedSetaffinity(tid, &allCPUs); err != nil {
			log.Debugf("KillerProc: widen affinity of tid %d: %v\n", tid, err)
		}
	}
	return nil
}

// Thaw is a method of KillerProc that unfreezes the victim's cgroup and
// pokes the process with SIGCONT.
func (k *KillerProc) Thaw(task TaskInfo) error {
	cgroupFile := k.procPath + "/" + strconv.Itoa(task.Pid) + "/cgroup"
	data, err := os.ReadFile(cgroupFile)
	if err == nil {
		if path, ok := cgroupV2Path(string(data)); ok {
			freezeFile := k.cgroupPath + path + "/cgroup.freeze"
			if err := os.WriteFile(freezeFile, []byte("0"), 0644); err != nil {
				log.Debugf("KillerProc: thaw cgroup of pid %d: %v\n", task.Pid, err)
			}
		}
	}
	if err := unix.Kill(task.Pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("failed to thaw pid %d: %w", task.Pid, err)
	}
	return nil
}

// RaiseWorkerPriority is a method of KillerProc that moves the calling
// thread to SCHED_FIFO at the highest realtime priority.
func (k *KillerProc) RaiseWorkerPriority() error {
	return schedSetScheduler(0, unix.SCHED_FIFO, maxRTPriority)
}

func (k *KillerProc) threadGroup(pid int) ([]int, error) {
	taskDir := k.procPath + "/" + strconv.Itoa(pid) + "/task"
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil, fmt.Errorf("cannot list threads of pid %d: %w", pid, err)
	}
	tids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if tid, err := strconv.Atoi(entry.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}

func cgroupV2Path(cgroupData string) (string, bool) {
	for _, line := range strings.Split(cgroupData, "\n") {
		if strings.HasPrefix(line, "0::") {
			return strings.TrimPrefix(line, "0::"), true
		}
	}
	return "", false
}

type schedParam struct {
	priority int32
}

// schedSetScheduler changes the scheduling class of one thread; tid 0
// means the calling thread.
func schedSetScheduler(tid int, policy int, priority int32) error {
	param := schedParam{priority: priority}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		uintptr(tid), uintptr(policy), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}
