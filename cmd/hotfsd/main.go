// Copyright 2022 Intel Corporation. All Rights Reserved.
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
	"bufio"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/yaml"

	"github.com/hottier/hotfs/pkg/hottrack"
	"github.com/hottier/hotfs/pkg/pidfile"
)

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "hotfsd: "+format+"\n", a...)
	os.Exit(1)
}

// daemonConfig is the on-disk configuration for hotfsd. Workloads is a
// list of synthetic ingress generators used to exercise the engine
// without a real filesystem hook wired in; a production VFS adapter
// would call hottrack.Root.RecordAccess directly from its I/O path
// instead of reading this list.
type daemonConfig struct {
	Hottrack  hottrack.Config
	MetricsAddr string
	Workloads []workloadConfig
}

type workloadConfig struct {
	FileID       uint64
	Threads      int
	AccessesEach int
	RangeOffset  uint64
	RangeLength  uint64
	Write        bool
}

func loadConfig(path string) (*daemonConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := &daemonConfig{
		Hottrack: hottrack.Config{
			HotUpdateIntervalSeconds: hottrack.DefaultUpdateIntervalSeconds,
		},
	}
	if err := yaml.Unmarshal(buf, config); err != nil {
		return nil, err
	}
	return config, nil
}

func main() {
	optConfig := flag.String("config", "", "-config=PATH path to a hotfsd YAML configuration file")
	optPidfile := flag.String("pidfile", "", "-pidfile=PATH override the default PID file location")
	optDebug := flag.Bool("debug", false, "-debug enable debug logging")
	optInteractive := flag.Bool("prompt", false, "-prompt run an interactive debug shell on stdin/stdout instead of waiting for a signal")

	flag.Parse()

	hottrack.SetLogger(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	hottrack.SetLogDebug(*optDebug)

	if *optPidfile != "" {
		pidfile.SetPath(*optPidfile)
	}
	if err := pidfile.Write(); err != nil {
		exit("%v", err)
	}
	defer pidfile.Remove()

	var config *daemonConfig
	if *optConfig != "" {
		var err error
		config, err = loadConfig(*optConfig)
		if err != nil {
			exit("failed to load configuration: %v", err)
		}
	} else {
		config = &daemonConfig{
			Hottrack: hottrack.Config{HotUpdateIntervalSeconds: hottrack.DefaultUpdateIntervalSeconds},
		}
	}

	root := hottrack.NewRoot()
	if configJson, err := jsonOf(config.Hottrack); err == nil {
		if err := root.SetConfigJson(configJson); err != nil {
			exit("invalid hottrack configuration: %v", err)
		}
	}
	if err := root.Enable(); err != nil {
		exit("failed to enable tracking: %v", err)
	}
	defer root.Disable()

	prometheus.MustRegister(root.Metrics())
	if config.MetricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(config.MetricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "hotfsd: metrics server stopped: %v\n", err)
			}
		}()
	}

	stop := runWorkloads(root, config.Workloads)
	defer close(stop)

	if *optInteractive {
		prompt := NewPrompt("hotfsd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), root)
		prompt.interact()
		return
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func jsonOf(config hottrack.Config) (string, error) {
	buf, err := yaml.Marshal(config)
	if err != nil {
		return "", err
	}
	asJson, err := yaml.YAMLToJSON(buf)
	if err != nil {
		return "", err
	}
	return string(asJson), nil
}
