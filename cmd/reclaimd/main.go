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

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/intel/reclaimd/pkg/reclaim"
	"github.com/intel/reclaimd/pkg/version"
)

type config struct {
	// Engine is the engine configuration as a JSON or YAML string.
	// When empty, MinFree and TimeoutMs are autodetected from the
	// amount of installed memory.
	Engine   string
	Triggers []reclaim.TriggerConfig
}

func exit(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "reclaimd: "+format+"\n", a...)
	os.Exit(1)
}

func loadConfigFile(filename string) *config {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		exit("%s", err)
	}
	var config config
	err = yaml.Unmarshal(configBytes, &config)
	if err != nil {
		exit("error in %q: %s", filename, err)
	}
	return &config
}

func main() {
	optConfig := flag.String("config", "", "Load engine and trigger configuration from a config FILE")
	optDebug := flag.Bool("debug", false, "Print debug output")
	optDryRun := flag.Bool("dry-run", false, "Select and log victims without killing anything")
	optLog := flag.String("l", "", "Write log to FILE, supports \"stdout\" and \"stderr\"")
	optMetrics := flag.String("metrics", "", "Serve prometheus metrics on ADDR, for example \":8080\"")
	optVersion := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *optVersion {
		fmt.Println(version.Version)
		return
	}

	switch *optLog {
	case "", "stderr":
		reclaim.SetLogger(log.New(os.Stderr, "", 0))
	case "-", "stdout":
		reclaim.SetLogger(log.New(os.Stdout, "", 0))
	default:
		logFile, err := os.OpenFile(*optLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			exit("failed to open log file %q: %v", *optLog, err)
		}
		reclaim.SetLogger(log.New(logFile, "", 0))
	}
	reclaim.SetLogDebug(*optDebug)

	var cfg *config
	if *optConfig != "" {
		cfg = loadConfigFile(*optConfig)
	} else {
		cfg = &config{}
	}

	engine := reclaim.NewEngine(nil, nil)
	if cfg.Engine != "" {
		if err := engine.SetConfigJSON(cfg.Engine); err != nil {
			exit("error in engine configuration: %s", err)
		}
	} else {
		engineCfg, err := reclaim.DetectedEngineConfig()
		if err != nil {
			exit("%s", err)
		}
		if err := engine.SetConfig(engineCfg); err != nil {
			exit("error in detected engine configuration: %s", err)
		}
		reclaim.Log().Infof("detected configuration: %s\n", engine.GetConfigJSON())
	}
	if *optDryRun {
		if err := engine.SetDryRun(true); err != nil {
			exit("%s", err)
		}
	}
	if err := engine.Start(); err != nil {
		exit("error in starting engine: %s", err)
	}

	// Without configured triggers the engine is fed by the default
	// vmpressure observer.
	triggerConfigs := cfg.Triggers
	if len(triggerConfigs) == 0 {
		triggerConfigs = []reclaim.TriggerConfig{{Name: "vmpressure"}}
	}
	for t, triggerCfg := range triggerConfigs {
		trigger, err := reclaim.NewTrigger(triggerCfg.Name)
		if err != nil {
			exit("%s", err)
		}
		if triggerCfg.Config != "" {
			if err := trigger.SetConfigJSON(triggerCfg.Config); err != nil {
				exit("trigger %s: %s", triggerCfg.Name, err)
			}
		}
		trigger.SetEngine(engine)
		if err := trigger.Start(); err != nil {
			exit("error in starting trigger %d (%s): %s", t+1, triggerCfg.Name, err)
		}
	}

	if *optMetrics != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*optMetrics, nil); err != nil {
				exit("metrics listener: %s", err)
			}
		}()
	}

	reclaim.Log().Debugf("running the engine and triggers\n")
	select {}
}
