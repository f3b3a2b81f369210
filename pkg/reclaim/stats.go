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
	"sort"
	"strings"
	"sync"
)

// StatsHeartbeat is an event that marks one occurrence of a named
// internal activity, for instance one iteration of a polling loop.
type StatsHeartbeat struct {
	Name string
}

// statsStore counts heartbeats from all components in the process.
type statsStore struct {
	mutex      sync.Mutex
	heartbeats map[string]uint64
}

var stats *statsStore = newStats()

func newStats() *statsStore {
	return &statsStore{
		heartbeats: map[string]uint64{},
	}
}

// Stats returns the process-wide statistics store.
func Stats() *statsStore {
	return stats
}

// Store records an event in the statistics.
func (s *statsStore) Store(entry interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch v := entry.(type) {
	case StatsHeartbeat:
		s.heartbeats[v.Name]++
	}
}

// Count returns the number of recorded heartbeats with the given name.
func (s *statsStore) Count(name string) uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.heartbeats[name]
}

// Dump returns heartbeat counts as a sorted text table.
func (s *statsStore) Dump() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	names := make([]string, 0, len(s.heartbeats))
	for name := range s.heartbeats {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%-8d %s", s.heartbeats[name], name))
	}
	return strings.Join(lines, "\n")
}
