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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TriggerVmpressureConfig holds the configuration for TriggerVmpressure.
type TriggerVmpressureConfig struct {
	IntervalMs int // poll interval
	// MeminfoPath is the meminfo file to compute pressure from.
	// The default is /proc/meminfo.
	MeminfoPath string
}

// TriggerVmpressure is an implementation of Trigger that computes the
// memory pressure level from meminfo and reports it to the engine on
// every poll. Whether a level requests reclaim is the engine's call:
// it compares the level against its minimum pressure.
type TriggerVmpressure struct {
	config *TriggerVmpressureConfig
	engine *Engine
	stop   bool
	mutex  sync.Mutex
}

func init() {
	TriggerRegister("vmpressure", NewTriggerVmpressure)
}

// NewTriggerVmpressure creates a new instance of TriggerVmpressure with
// default configuration.
func NewTriggerVmpressure() (Trigger, error) {
	tr := &TriggerVmpressure{}
	// This trigger is expected to work out-of-the-box without any
	// configuration. Set the defaults immediately.
	_ = tr.SetConfigJSON("")
	return tr, nil
}

// SetConfigJSON is a method of TriggerVmpressure that sets the
// configuration from JSON.
func (tr *TriggerVmpressure) SetConfigJSON(configJSON string) error {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	config := &TriggerVmpressureConfig{}
	if configJSON != "" {
		if err := unmarshal(configJSON, config); err != nil {
			return err
		}
	}
	if config.IntervalMs == 0 {
		config.IntervalMs = 1000
	}
	if config.MeminfoPath == "" {
		config.MeminfoPath = "/proc/meminfo"
	}
	tr.config = config
	return nil
}

// GetConfigJSON is a method of TriggerVmpressure that returns the
// current configuration as a JSON string.
func (tr *TriggerVmpressure) GetConfigJSON() string {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	if tr.config == nil {
		return ""
	}
	if configStr, err := json.Marshal(tr.config); err == nil {
		return string(configStr)
	}
	return ""
}

// SetEngine is a method of TriggerVmpressure that sets the engine to
// report pressure to.
func (tr *TriggerVmpressure) SetEngine(e *Engine) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.engine = e
}

// Start is a method of TriggerVmpressure that starts the polling loop.
func (tr *TriggerVmpressure) Start() error {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	if tr.engine == nil {
		return fmt.Errorf("no engine to report pressure to")
	}
	tr.stop = false
	go tr.loop()
	return nil
}

// Stop is a method of TriggerVmpressure that stops the polling loop.
func (tr *TriggerVmpressure) Stop() {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.stop = true
}

// Dump is a method of TriggerVmpressure that returns a string
// representation of the current instance.
func (tr *TriggerVmpressure) Dump([]string) string {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	return fmt.Sprintf("TriggerVmpressure{config:%v,stop:%v}", tr.config, tr.stop)
}

func (tr *TriggerVmpressure) loop() {
	log.Debugf("TriggerVmpressure: online\n")
	defer log.Debugf("TriggerVmpressure: offline\n")
	ticker := time.NewTicker(time.Duration(tr.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		tr.mutex.Lock()
		stop := tr.stop
		engine := tr.engine
		path := tr.config.MeminfoPath
		tr.mutex.Unlock()
		if stop {
			return
		}
		stats.Store(StatsHeartbeat{"TriggerVmpressure.loop"})
		level, err := readPressureLevel(path)
		if err != nil {
			stats.Store(StatsHeartbeat{fmt.Sprintf("TriggerVmpressure.error: %s", err)})
			continue
		}
		engine.ReportPressure(level)
	}
}

// readPressureLevel computes the pressure level as the used share of
// total memory: 100 when nothing is available, 0 when everything is.
func readPressureLevel(meminfoPath string) (int, error) {
	data, err := os.ReadFile(meminfoPath)
	if err != nil {
		return 0, err
	}
	total := meminfoValue(string(data), "MemTotal:")
	avail := meminfoValue(string(data), "MemAvailable:")
	if total <= 0 || avail < 0 {
		return 0, fmt.Errorf("missing MemTotal or MemAvailable in %q", meminfoPath)
	}
	return int(100 - 100*avail/total), nil
}

// meminfoValue returns the numeric value on the line starting with key,
// -1 if not found.
func meminfoValue(data, key string) int64 {
	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, key) {
			continue
		}
		fields := strings.Fields(line[len(key):])
		if len(fields) < 1 {
			return -1
		}
		v, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return -1
		}
		return v
	}
	return -1
}
