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
)

// TriggerConfig represents the configuration for a trigger source.
type TriggerConfig struct {
	Name   string
	Config string
}

// Trigger is an interface for event sources that feed the engine:
// pressure observers request reclaim, state observers adjust how
// eagerly reclaim triggers.
type Trigger interface {
	SetConfigJSON(string) error // Set new configuration.
	GetConfigJSON() string      // Get current configuration.
	SetEngine(*Engine)
	Start() error
	Stop()
	Dump([]string) string
}

// TriggerCreator is a function that creates an instance of a Trigger.
type TriggerCreator func() (Trigger, error)

// triggers is a map of trigger name -> trigger creator
var triggers map[string]TriggerCreator = make(map[string]TriggerCreator, 0)

// TriggerRegister registers a new trigger source with its creator function.
func TriggerRegister(name string, creator TriggerCreator) {
	triggers[name] = creator
}

// TriggerList returns a sorted list of available trigger names.
func TriggerList() []string {
	keys := make([]string, 0, len(triggers))
	for key := range triggers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NewTrigger creates a new instance of a trigger source based on its name.
func NewTrigger(name string) (Trigger, error) {
	if creator, ok := triggers[name]; ok {
		return creator()
	}
	return nil, fmt.Errorf("invalid trigger name %q", name)
}
