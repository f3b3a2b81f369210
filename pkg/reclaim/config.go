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

	"golang.org/x/sys/unix"
)

// EngineConfig holds the configuration of the reclaim engine.
type EngineConfig struct {
	// MinFree is the minimum amount of memory to free per reclaim
	// cycle, given as bytes ("64M") or as a percentage of total
	// memory ("3%").
	MinFree string
	// TimeoutMs bounds how long one cycle waits for its victims'
	// address spaces to be confirmed torn down. Hitting the timeout
	// is expected, not an error: killed processes can take
	// arbitrarily long to fully exit.
	TimeoutMs int
	// MaxVictims caps the number of victims per reclaim cycle.
	MaxVictims int
	// MinPressure is the memory pressure level (0-100) at which
	// reclaim is requested. Display state changes may adjust the
	// effective level at runtime.
	MinPressure int
	// ReapIntervalMs is the poll period for detecting victim
	// teardown and reporting it back to the engine. Zero disables
	// the built-in watcher; an external reporter must then call
	// AddrSpaceFreed.
	ReapIntervalMs int
	// DryRun selects and logs victims without killing anything.
	DryRun bool
}

const engineDefaults string = "{\"MinFree\":\"64M\",\"TimeoutMs\":250,\"MinPressure\":90,\"ReapIntervalMs\":10}"

// DetectedEngineConfig returns an engine configuration with MinFree and
// TimeoutMs chosen by the amount of installed memory. Larger systems
// get a shorter confirmation timeout: teardown is faster when more CPUs
// and memory bandwidth are available.
func DetectedEngineConfig() (*EngineConfig, error) {
	total, err := totalMemBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to detect installed memory: %w", err)
	}
	return detectedConfig(total), nil
}

func detectedConfig(totalBytes uint64) *EngineConfig {
	config := &EngineConfig{MinFree: "64M", ReapIntervalMs: 10}
	switch {
	case totalBytes > 5072*1024*1024:
		config.TimeoutMs = 160
	case totalBytes > 3072*1024*1024:
		config.TimeoutMs = 172
	default:
		config.TimeoutMs = 250
	}
	return config
}

// totalMemBytes returns the amount of installed memory.
func totalMemBytes() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}
