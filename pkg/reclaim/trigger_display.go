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

// TriggerDisplayConfig holds the configuration for TriggerDisplay.
type TriggerDisplayConfig struct {
	IntervalMs int // poll interval
	// Path is the display power state file. The first integer in it
	// is zero while the display is on, non-zero while it is off
	// (the backlight bl_power convention).
	Path string
	// OffMinPressure is installed as the engine's minimum pressure
	// when the display turns off, so reclaim triggers less eagerly
	// while nobody is looking at the device.
	OffMinPressure int
	// OnMinPressure is installed when the display wakes up.
	OnMinPressure int
}

// TriggerDisplay is an implementation of Trigger that observes the
// display power state and adjusts the engine's minimum pressure on
// blank and unblank.
type TriggerDisplay struct {
	config   *TriggerDisplayConfig
	engine   *Engine
	screenOn bool
	stop     bool
	mutex    sync.Mutex
}

func init() {
	TriggerRegister("display", NewTriggerDisplay)
}

// NewTriggerDisplay creates a new instance of TriggerDisplay with
// default configuration.
func NewTriggerDisplay() (Trigger, error) {
	tr := &TriggerDisplay{screenOn: true}
	_ = tr.SetConfigJSON("")
	return tr, nil
}

// SetConfigJSON is a method of TriggerDisplay that sets the
// configuration from JSON.
func (tr *TriggerDisplay) SetConfigJSON(configJSON string) error {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	config := &TriggerDisplayConfig{}
	if configJSON != "" {
		if err := unmarshal(configJSON, config); err != nil {
			return err
		}
	}
	if config.IntervalMs == 0 {
		config.IntervalMs = 1000
	}
	if config.Path == "" {
		config.Path = "/sys/class/backlight/backlight/bl_power"
	}
	if config.OffMinPressure == 0 {
		config.OffMinPressure = 95
	}
	if config.OnMinPressure == 0 {
		config.OnMinPressure = 90
	}
	tr.config = config
	return nil
}

// GetConfigJSON is a method of TriggerDisplay that returns the current
// configuration as a JSON string.
func (tr *TriggerDisplay) GetConfigJSON() string {
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

// SetEngine is a method of TriggerDisplay that sets the engine whose
// minimum pressure is adjusted.
func (tr *TriggerDisplay) SetEngine(e *Engine) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.engine = e
}

// Start is a method of TriggerDisplay that starts the polling loop.
func (tr *TriggerDisplay) Start() error {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	if tr.engine == nil {
		return fmt.Errorf("no engine to adjust")
	}
	tr.stop = false
	go tr.loop()
	return nil
}

// Stop is a method of TriggerDisplay that stops the polling loop.
func (tr *TriggerDisplay) Stop() {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.stop = true
}

// Dump is a method of TriggerDisplay that returns a string
// representation of the current instance.
func (tr *TriggerDisplay) Dump([]string) string {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	return fmt.Sprintf("TriggerDisplay{config:%v,screenOn:%v,stop:%v}",
		tr.config, tr.screenOn, tr.stop)
}

func (tr *TriggerDisplay) loop() {
	log.Debugf("TriggerDisplay: online\n")
	defer log.Debugf("TriggerDisplay: offline\n")
	ticker := time.NewTicker(time.Duration(tr.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		tr.mutex.Lock()
		if tr.stop {
			tr.mutex.Unlock()
			return
		}
		stats.Store(StatsHeartbeat{"TriggerDisplay.loop"})
		on, err := readDisplayOn(tr.config.Path)
		if err != nil {
			stats.Store(StatsHeartbeat{fmt.Sprintf("TriggerDisplay.error: %s", err)})
			tr.mutex.Unlock()
			continue
		}
		tr.applyState(on)
		tr.mutex.Unlock()
	}
}

// applyState installs the matching minimum pressure on display state
// transitions. Caller holds the mutex.
func (tr *TriggerDisplay) applyState(on bool) {
	if on == tr.screenOn {
		return
	}
	tr.screenOn = on
	if on {
		log.Infof("display on, minimum pressure %d\n", tr.config.OnMinPressure)
		tr.engine.SetMinPressure(tr.config.OnMinPressure)
	} else {
		log.Infof("display off, minimum pressure %d\n", tr.config.OffMinPressure)
		tr.engine.SetMinPressure(tr.config.OffMinPressure)
	}
}

// readDisplayOn reads the first integer of the power state file; zero
// means the display is on.
func readDisplayOn(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	first := strings.Fields(strings.TrimSpace(string(data)))
	if len(first) == 0 {
		return false, fmt.Errorf("empty display state file %q", path)
	}
	v, err := strconv.Atoi(first[0])
	if err != nil {
		return false, fmt.Errorf("unexpected display state %q in %q", first[0], path)
	}
	return v == 0, nil
}
