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

// The reclaim engine frees a configured amount of memory when the
// system is under pressure by killing a minimal set of expendable
// processes and tracking their death to completion or timeout.
//
// One dedicated worker performs all scanning, selection and killing
// serially. It is woken by a single-flight edge trigger, so rapid
// repeated pressure reports coalesce into one cycle and at most one
// cycle runs at a time. Within a cycle the worker scans the process
// table into importance buckets, ranks candidates by size, trims the
// kill set to the minimal prefix that satisfies the page target,
// delivers forced kills with teardown acceleration, and then sleeps
// until every victim's address space is confirmed torn down or the
// timeout expires.

package reclaim

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the low-memory reclaim engine.
type Engine struct {
	mutex  sync.Mutex
	config *EngineConfig
	proc   ProcSource
	killer Killer
	table  *victimTable

	// targetPages is the page target derived from MinFree.
	targetPages uint64
	timeout     time.Duration

	// victimLock guards the published victim window against
	// concurrent teardown reports. The worker takes the write side
	// only at the narrow publish and reset moments; reporters take
	// the read side while matching.
	victimLock sync.RWMutex
	nrVictims  int
	nrKilled   atomic.Int32
	done       chan struct{}

	minPressure  atomic.Int32
	needsReclaim atomic.Bool
	wake         chan struct{}
	cmdLoop      chan chan interface{}
}

// NewEngine creates a reclaim engine. Passing nil for proc or killer
// selects the procfs-based defaults.
func NewEngine(proc ProcSource, killer Killer) *Engine {
	if proc == nil {
		proc = NewProcSourceProc()
	}
	if killer == nil {
		killer = NewKillerProc()
	}
	return &Engine{
		proc:   proc,
		killer: killer,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// SetConfigJSON sets the engine configuration from JSON or YAML.
func (e *Engine) SetConfigJSON(configJSON string) error {
	config := &EngineConfig{}
	if err := unmarshal(configJSON, config); err != nil {
		return err
	}
	return e.SetConfig(config)
}

// SetConfig sets the engine configuration.
func (e *Engine) SetConfig(config *EngineConfig) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if config.MinFree == "" {
		config.MinFree = "64M"
	}
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 250
	}
	if config.MaxVictims <= 0 {
		config.MaxVictims = defaultMaxVictims
	}
	if config.MinPressure <= 0 {
		config.MinPressure = 90
	}
	total, err := totalMemBytes()
	if err != nil {
		return fmt.Errorf("failed to read total memory: %w", err)
	}
	minFreeBytes, err := parsePercentageOrBytes(config.MinFree, int64(total))
	if err != nil {
		return fmt.Errorf("failed to parse MinFree: %w", err)
	}
	targetPages := uint64(minFreeBytes) / uint64(os.Getpagesize())
	if targetPages == 0 {
		return fmt.Errorf("MinFree %q is less than one page", config.MinFree)
	}
	e.targetPages = targetPages
	e.timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	e.minPressure.Store(int32(config.MinPressure))
	if e.table == nil || len(e.table.victims) != config.MaxVictims {
		e.table = newVictimTable(config.MaxVictims)
	}
	e.config = config
	return nil
}

// GetConfigJSON returns the current engine configuration as a JSON string.
func (e *Engine) GetConfigJSON() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.config == nil {
		return ""
	}
	if configStr, err := json.Marshal(e.config); err == nil {
		return string(configStr)
	}
	return ""
}

// SetDryRun overrides the configured dry-run mode. In dry-run mode the
// engine selects and logs victims without killing anything.
func (e *Engine) SetDryRun(dryRun bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.config == nil {
		return fmt.Errorf("cannot set dry-run mode before configuration")
	}
	e.config.DryRun = dryRun
	return nil
}

// Start launches the engine's worker.
func (e *Engine) Start() error {
	e.mutex.Lock()
	if e.config == nil {
		e.mutex.Unlock()
		if err := e.SetConfigJSON(engineDefaults); err != nil {
			return fmt.Errorf("start failed on default configuration error: %w", err)
		}
		e.mutex.Lock()
	}
	defer e.mutex.Unlock()
	if e.cmdLoop != nil {
		return fmt.Errorf("already started")
	}
	e.cmdLoop = make(chan chan interface{})
	go e.loop(e.cmdLoop)
	return nil
}

// Stop stops the engine's worker. An in-flight reclaim cycle runs to
// completion first.
func (e *Engine) Stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.cmdLoop == nil {
		return
	}
	cmdResponse := make(chan interface{})
	e.cmdLoop <- cmdResponse
	<-cmdResponse
	e.cmdLoop = nil
}

// RequestReclaim queues one reclaim cycle and wakes the worker. It is
// non-blocking and may be called from any goroutine; requests made
// while a cycle is already pending or running coalesce into it.
func (e *Engine) RequestReclaim() {
	if e.needsReclaim.CompareAndSwap(false, true) {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// ReportPressure feeds a memory pressure level (0-100) into the engine
// and requests reclaim when the level reaches the current minimum
// pressure.
func (e *Engine) ReportPressure(level int) {
	metricPressureLevel.Set(float64(level))
	if level >= int(e.minPressure.Load()) {
		e.RequestReclaim()
	}
}

// SetMinPressure adjusts the pressure level required to trigger
// reclaim. Used by the display trigger to make reclaim less eager while
// the screen is off.
func (e *Engine) SetMinPressure(level int) {
	e.minPressure.Store(int32(level))
	log.Debugf("Engine: minimum pressure set to %d\n", level)
}

// MinPressure returns the pressure level currently required to trigger
// reclaim.
func (e *Engine) MinPressure() int {
	return int(e.minPressure.Load())
}

// AddrSpaceFreed reports that an address space has been fully torn
// down. It is non-blocking, may be invoked from arbitrary concurrent
// contexts, and is a no-op when the address space does not match a
// pending victim or when no cycle is active. Duplicate reports for the
// same address space count once.
func (e *Engine) AddrSpaceFreed(id uint64) {
	if id == 0 {
		return
	}
	// Nothing to do when a reclaim cycle is starting or ending.
	if !e.victimLock.TryRLock() {
		return
	}
	defer e.victimLock.RUnlock()
	for i := 0; i < e.nrVictims; i++ {
		v := &e.table.victims[i]
		// The swap clears the slot so that no concurrent or
		// repeated report can confirm it twice.
		if atomic.CompareAndSwapUint64(&v.ASID, id, 0) {
			metricPagesFreed.Add(float64(v.Size))
			if int(e.nrKilled.Add(1)) == e.nrVictims {
				close(e.done)
			}
			break
		}
	}
}

// VictimCount returns the number of victims published for the current
// reclaim cycle, zero when no cycle is in its confirmation window.
func (e *Engine) VictimCount() int {
	e.victimLock.RLock()
	defer e.victimLock.RUnlock()
	return e.nrVictims
}

// ConfirmedCount returns the number of teardown confirmations received
// in the current reclaim cycle.
func (e *Engine) ConfirmedCount() int {
	return int(e.nrKilled.Load())
}

// Dump returns a string representation of the engine state.
func (e *Engine) Dump([]string) string {
	e.victimLock.RLock()
	defer e.victimLock.RUnlock()
	return fmt.Sprintf("Engine{targetPages:%d,timeout:%s,minPressure:%d,victims:%d,confirmed:%d,pending:%v}",
		e.targetPages, e.timeout, e.minPressure.Load(),
		e.nrVictims, e.nrKilled.Load(), e.needsReclaim.Load())
}

func (e *Engine) loop(cmd chan chan interface{}) {
	log.Debugf("Engine: online\n")
	defer log.Debugf("Engine: offline\n")
	// The worker stays on one OS thread so its elevated scheduling
	// class sticks.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := e.killer.RaiseWorkerPriority(); err != nil {
		log.Debugf("Engine: worker priority not raised: %v\n", err)
	}
	for {
		select {
		case cmdResponse := <-cmd:
			cmdResponse <- struct{}{}
			return
		case <-e.wake:
			e.scanAndKill()
			// Re-arm the trigger only after the full cycle,
			// so pressure reported meanwhile does not queue
			// another cycle.
			e.needsReclaim.Store(false)
		}
	}
}

// scanAndKill runs one full reclaim cycle: scan, select, kill, wait for
// confirmations, reset. All failures are local to the cycle.
func (e *Engine) scanAndKill() {
	stats.Store(StatsHeartbeat{"Engine.scanAndKill"})
	metricCycles.Inc()

	nrFound, pagesFound := e.findVictims()
	if nrFound == 0 {
		errorfRatelimited("no processes available to kill\n")
		metricEmptyScans.Inc()
		return
	}
	nrToKill := nrFound
	if pagesFound > e.targetPages {
		nrToKill = e.selectVictims(nrFound)
	}

	// Publish the victim count for AddrSpaceFreed.
	e.victimLock.Lock()
	e.nrVictims = nrToKill
	e.victimLock.Unlock()

	pageKiB := uint64(os.Getpagesize() / 1024)
	for i := 0; i < nrToKill; i++ {
		v := &e.table.victims[i]
		log.Infof("killing %s (pid %d) with adj %d to free %d KiB\n",
			v.Task.Comm, v.Task.Pid, v.Task.Adj, v.Size*pageKiB)
		if !e.config.DryRun {
			if err := e.killer.Kill(v.Task); err != nil {
				log.Errorf("Engine: %v\n", err)
			}
			if err := e.killer.ExpediteTeardown(v.Task); err != nil {
				log.Debugf("Engine: %v\n", err)
			}
			if e.proc.Frozen(v.Task.Pid) {
				if err := e.killer.Thaw(v.Task); err != nil {
					log.Errorf("Engine: %v\n", err)
				}
			}
		}
		// Release the hold taken when the address space was locked
		// during scanning. The slot keeps matching teardown reports
		// by identity.
		v.AS.Unlock()
		metricVictims.Inc()
	}

	if e.config.DryRun {
		stats.Store(StatsHeartbeat{"Engine.dryRun"})
	} else {
		e.watchTeardown(nrToKill)
		if !e.waitVictims() {
			log.Infof("timeout hit waiting for victims to die, proceeding\n")
			metricTimeouts.Inc()
		}
	}

	// Clean up for future reclaim cycles.
	e.victimLock.Lock()
	e.nrVictims = 0
	e.nrKilled.Store(0)
	e.done = make(chan struct{})
	e.victimLock.Unlock()
}

// waitVictims blocks until every victim of the current cycle is
// confirmed torn down, bounded by the configured timeout. It returns
// false on timeout.
func (e *Engine) waitVictims() bool {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}
