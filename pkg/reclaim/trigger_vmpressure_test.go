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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMeminfo(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadPressureLevel(t *testing.T) {
	testcases := []struct {
		name     string
		meminfo  string
		expected int
	}{
		{
			name:     "ten percent available",
			meminfo:  "MemTotal:       1000000 kB\nMemFree:          50000 kB\nMemAvailable:    100000 kB\n",
			expected: 90,
		},
		{
			name:     "everything available",
			meminfo:  "MemTotal:       1000000 kB\nMemAvailable:   1000000 kB\n",
			expected: 0,
		},
		{
			name:     "nothing available",
			meminfo:  "MemTotal:       1000000 kB\nMemAvailable:         0 kB\n",
			expected: 100,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			level, err := readPressureLevel(writeMeminfo(t, tc.meminfo))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
		})
	}
}

func TestReadPressureLevelErrors(t *testing.T) {
	_, err := readPressureLevel(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)

	_, err = readPressureLevel(writeMeminfo(t, "MemFree: 100 kB\n"))
	assert.Error(t, err)

	_, err = readPressureLevel(writeMeminfo(t, "MemTotal: garbage\nMemAvailable: 1 kB\n"))
	assert.Error(t, err)
}

func TestMeminfoValue(t *testing.T) {
	data := "MemTotal:       1000000 kB\nMemAvailable:    123456 kB\n"
	assert.Equal(t, int64(1000000), meminfoValue(data, "MemTotal:"))
	assert.Equal(t, int64(123456), meminfoValue(data, "MemAvailable:"))
	assert.Equal(t, int64(-1), meminfoValue(data, "SwapTotal:"))
}

func TestTriggerVmpressureConfig(t *testing.T) {
	tr, err := NewTrigger("vmpressure")
	require.NoError(t, err)
	vp, ok := tr.(*TriggerVmpressure)
	require.True(t, ok)
	assert.Equal(t, 1000, vp.config.IntervalMs)
	assert.Equal(t, "/proc/meminfo", vp.config.MeminfoPath)

	require.NoError(t, tr.SetConfigJSON(`{"IntervalMs":50,"MeminfoPath":"/tmp/meminfo"}`))
	assert.Equal(t, 50, vp.config.IntervalMs)
	assert.Equal(t, "/tmp/meminfo", vp.config.MeminfoPath)
	assert.Contains(t, tr.GetConfigJSON(), "/tmp/meminfo")

	assert.Error(t, tr.SetConfigJSON(`{"Interval":50}`))
}

func TestTriggerVmpressureNeedsEngine(t *testing.T) {
	tr, err := NewTrigger("vmpressure")
	require.NoError(t, err)
	assert.Error(t, tr.Start())
}
