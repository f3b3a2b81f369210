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
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleAbortsWithoutCandidates(t *testing.T) {
	killer := &fakeKiller{}
	e := newTestEngine(t, newFakeSource(), killer, 60, 100, 16)

	e.scanAndKill()
	assert.Equal(t, 0, e.VictimCount())
	assert.Empty(t, killer.eventList())
}

func TestCycleKillsAndConfirms(t *testing.T) {
	frozen := task(103, 5, 50)
	frozen.frozen = true
	src := newFakeSource(task(101, 5, 100), task(102, 5, 70), frozen)
	killer := &fakeKiller{}
	// All three victims are needed for the 220-page target. The
	// timeout is far longer than the test should take: completion
	// must come from the confirmations.
	e := newTestEngine(t, src, killer, 220, 5000, 16)

	cycleDone := make(chan struct{})
	go func() {
		e.scanAndKill()
		close(cycleDone)
	}()

	require.Eventually(t, func() bool { return e.VictimCount() == 3 },
		time.Second, time.Millisecond)
	started := time.Now()
	for _, pid := range []uint64{101, 102, 103} {
		e.AddrSpaceFreed(pid)
	}
	select {
	case <-cycleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not complete after all confirmations")
	}
	assert.Less(t, time.Since(started), time.Second)

	// Cycle state was reset for the next reclaim.
	assert.Equal(t, 0, e.VictimCount())
	assert.Equal(t, 0, e.ConfirmedCount())
	assert.True(t, e.table.bucketsClear(0, adjLimit))

	events := killer.eventList()
	assert.Contains(t, events, "kill:101")
	assert.Contains(t, events, "kill:102")
	assert.Contains(t, events, "kill:103")
	assert.Contains(t, events, "expedite:101")
	assert.Contains(t, events, "expedite:103")
	// Only the frozen victim is thawed.
	assert.Contains(t, events, "thaw:103")
	assert.NotContains(t, events, "thaw:101")
	assert.NotContains(t, events, "thaw:102")
}

func TestCycleTimesOutAndProceeds(t *testing.T) {
	src := newFakeSource(task(201, 5, 100))
	e := newTestEngine(t, src, &fakeKiller{}, 50, 50, 16)

	started := time.Now()
	e.scanAndKill()
	elapsed := time.Since(started)
	// No confirmations arrive: the cycle waits out the timeout and
	// proceeds to cleanup regardless.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 0, e.VictimCount())
	assert.Equal(t, 0, e.ConfirmedCount())
}

func TestUnknownTeardownReportIsNoop(t *testing.T) {
	src := newFakeSource(task(301, 5, 100))
	e := newTestEngine(t, src, &fakeKiller{}, 50, 200, 16)

	// No cycle active: report must be a no-op.
	e.AddrSpaceFreed(301)
	assert.Equal(t, 0, e.ConfirmedCount())

	cycleDone := make(chan struct{})
	go func() {
		e.scanAndKill()
		close(cycleDone)
	}()
	require.Eventually(t, func() bool { return e.VictimCount() == 1 },
		time.Second, time.Millisecond)

	// A report for an address space that is not among the pending
	// victims does not advance the confirmation count.
	e.AddrSpaceFreed(999)
	assert.Equal(t, 0, e.ConfirmedCount())
	// Repeated reports for the same address space count once.
	e.AddrSpaceFreed(301)
	e.AddrSpaceFreed(301)
	<-cycleDone
}

func TestConfirmationsNeverExceedVictimCount(t *testing.T) {
	src := newFakeSource(task(401, 5, 60), task(402, 5, 40))
	e := newTestEngine(t, src, &fakeKiller{}, 100, 300, 16)

	cycleDone := make(chan struct{})
	go func() {
		e.scanAndKill()
		close(cycleDone)
	}()
	require.Eventually(t, func() bool { return e.VictimCount() == 2 },
		time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.AddrSpaceFreed(401)
			e.AddrSpaceFreed(402)
			e.AddrSpaceFreed(12345)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, e.ConfirmedCount(), 2)
	<-cycleDone
}

func TestTriggerCoalescing(t *testing.T) {
	src := newFakeSource()
	gate := make(chan struct{})
	src.setGate(gate)
	e := newTestEngine(t, src, &fakeKiller{}, 60, 50, 16)
	require.NoError(t, e.Start())
	defer e.Stop()

	// The first request wakes the worker, which blocks mid-scan on
	// the gate.
	e.RequestReclaim()
	require.Eventually(t, func() bool { return src.scans.Load() == 1 },
		time.Second, time.Millisecond)

	// Concurrent requests while the cycle runs must coalesce.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RequestReclaim()
		}()
	}
	wg.Wait()
	close(gate)

	// The held cycle finishes; no second cycle follows.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), src.scans.Load())

	// A request after the cycle completed re-arms the trigger.
	src.setGate(nil)
	e.RequestReclaim()
	require.Eventually(t, func() bool { return src.scans.Load() == 2 },
		time.Second, time.Millisecond)
}

func TestDryRunKillsNothing(t *testing.T) {
	src := newFakeSource(task(501, 5, 100))
	killer := &fakeKiller{}
	e := NewEngine(src, killer)
	require.NoError(t, e.SetConfig(&EngineConfig{
		MinFree:   strconv.Itoa(os.Getpagesize()),
		TimeoutMs: 1000,
		DryRun:    true,
	}))

	started := time.Now()
	e.scanAndKill()
	// Nothing is killed and nothing is waited for.
	assert.Empty(t, killer.eventList())
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, 0, e.VictimCount())
}

func TestTeardownWatcherConfirms(t *testing.T) {
	src := newFakeSource(task(601, 5, 80), task(602, 5, 60))
	killer := &fakeKiller{reap: src}
	e := NewEngine(src, killer)
	// One 80-page victim satisfies the one-page target.
	require.NoError(t, e.SetConfig(&EngineConfig{
		MinFree:        strconv.Itoa(os.Getpagesize()),
		TimeoutMs:      2000,
		ReapIntervalMs: 5,
	}))

	started := time.Now()
	e.scanAndKill()
	// The killer marks victims released; the watcher notices and
	// confirms well before the timeout.
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, 0, e.VictimCount())
}

func TestBucketReuseAcrossCycles(t *testing.T) {
	src := newFakeSource(task(701, 5, 100), task(702, 3, 100))
	killer := &fakeKiller{}
	e := newTestEngine(t, src, killer, 100, 10, 16)

	for cycle := 0; cycle < 3; cycle++ {
		e.scanAndKill()
		assert.True(t, e.table.bucketsClear(0, adjLimit))
	}
	// Every cycle re-found and killed the same most-expendable task.
	kills := 0
	for _, event := range killer.eventList() {
		if event == "kill:701" {
			kills++
		}
	}
	assert.Equal(t, 3, kills)
}

func TestReportPressure(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), &fakeKiller{}, 60, 50, 16)
	require.Equal(t, 90, e.MinPressure())

	e.ReportPressure(89)
	assert.False(t, e.needsReclaim.Load())
	e.ReportPressure(90)
	assert.True(t, e.needsReclaim.Load())

	e.needsReclaim.Store(false)
	e.SetMinPressure(95)
	e.ReportPressure(94)
	assert.False(t, e.needsReclaim.Load())
	e.ReportPressure(95)
	assert.True(t, e.needsReclaim.Load())
}
