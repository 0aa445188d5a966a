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
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/intel/vmcore/pkg/config"
	logger "github.com/intel/vmcore/pkg/log"
	"github.com/intel/vmcore/pkg/metrics"
	"github.com/intel/vmcore/pkg/version"
	"github.com/intel/vmcore/pkg/vm"
	"github.com/intel/vmcore/pkg/workload"
)

var log = logger.NewLogger("vmcored")

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "vmcored: "+format+"\n", a...)
	os.Exit(1)
}

// loadConfig loads the configuration and applies command line overrides.
func loadConfig(path string, frames int, swapDir string) *config.Config {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			exit("%v", err)
		}
	}
	if frames > 0 {
		cfg.Machine.Frames = frames
	}
	if swapDir != "" {
		cfg.Swap.Directory = swapDir
	}
	if err := cfg.Validate(); err != nil {
		exit("invalid configuration: %v", err)
	}
	return cfg
}

// reconfigure applies the runtime adjustable parts of a reloaded configuration.
func reconfigure(active *config.Config) func(*config.Config) {
	return func(cfg *config.Config) {
		if err := logger.Configure(cfg.Log); err != nil {
			log.Error("failed to apply logging configuration: %v", err)
			return
		}
		if cfg.Machine != active.Machine || cfg.Swap != active.Swap {
			log.Warn("machine and swap configuration changes take effect after restart")
		}
		log.Info("logging reconfigured")
	}
}

func runWorkload(m *vm.Manager, name string, o workload.Options, w io.Writer) error {
	r, err := workload.Run(m, name, o)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", r)
	return nil
}

func main() {
	optConfig := flag.String("config", "", "-config=FILE read machine configuration from FILE")
	optFrames := flag.Int("frames", 0, "-frames=N override the number of physical frames")
	optSwapDir := flag.String("swap-dir", "", "-swap-dir=DIR override the swap file directory")
	optWorkload := flag.String("workload", "none",
		"-workload=<"+strings.Join(workload.Names(), "|")+"|none> run a workload at startup")
	optPages := flag.Int("pages", workload.DefaultOptions().Pages, "-pages=N number of pages the touch workload writes")
	optPrompt := flag.Bool("prompt", false, "-prompt run the interactive prompt")
	optDebug := flag.Bool("debug", false, "-debug enable full debug logging")
	optMetrics := flag.Bool("metrics", false, "-metrics dump metrics before exiting")

	flag.Parse()

	cfg := loadConfig(*optConfig, *optFrames, *optSwapDir)
	if err := logger.Configure(cfg.Log); err != nil {
		exit("failed to configure logging: %v", err)
	}
	if *optDebug {
		logger.EnableDebug("*", true)
	}
	logger.SetStdLogger("stdlog")
	logger.SetupDebugToggleSignal(unix.SIGUSR1)
	defer logger.Flush()

	log.Info("%s", version.Info())
	log.Debug("configuration:\n%s", cfg)

	if *optConfig != "" {
		w, err := config.Watch(*optConfig, reconfigure(cfg))
		if err != nil {
			log.Warn("configuration changes will not be picked up: %v", err)
		} else {
			defer w.Stop()
		}
	}

	m, err := vm.NewManager(cfg)
	if err != nil {
		exit("failed to create machine: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Error("failed to shut down machine: %v", err)
		}
	}()

	err = metrics.RegisterCollector("vm", func() (prometheus.Collector, error) {
		return vm.NewCollector(m), nil
	})
	if err != nil {
		exit("%v", err)
	}

	o := workload.DefaultOptions()
	o.Pages = *optPages
	if *optWorkload != "" && *optWorkload != "none" {
		if err := runWorkload(m, *optWorkload, o, os.Stdout); err != nil {
			exit("%v", err)
		}
		fmt.Println(m.Stats().Summarize())
	}

	if *optPrompt {
		p := vm.NewPrompt(m, "vmcored> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout))
		p.AddCmd("workload", "run a workload in a new address space.",
			func(f *flag.FlagSet, args []string, _ *vm.AddressSpace, w io.Writer) error {
				name := f.String("name", workload.MatmultName, "workload to run: "+strings.Join(workload.Names(), ", "))
				dim := f.Int("dim", o.Dim, "matrix dimension of matmult")
				pages := f.Int("pages", o.Pages, "number of pages touch writes")
				if err := f.Parse(args); err != nil {
					return err
				}
				return runWorkload(m, *name, workload.Options{Dim: *dim, Pages: *pages}, w)
			})
		p.Interact()
	}

	if *optMetrics {
		g, err := metrics.NewMetricGatherer()
		if err != nil {
			exit("%v", err)
		}
		if err := metrics.Dump(os.Stdout, g); err != nil {
			exit("%v", err)
		}
	}
}
