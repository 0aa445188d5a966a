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

// Package config implements the configuration of a vmcore machine: the
// simulated physical memory and TLB, the swap device and logging. The
// configuration is a single YAML (or JSON) document, for instance
//
//	machine:
//	  frames: 64
//	  tlbEntries: 64
//	swap:
//	  directory: /var/lib/vmcore/swap
//	  bandwidth: 2000
//	log:
//	  level: info
//	  debug: [vm]
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"

	logger "github.com/intel/vmcore/pkg/log"
)

const (
	// MaxFrames is the largest number of physical frames, the frame
	// number field of a page-table word is 8 bits wide.
	MaxFrames = 256
	// MaxTLBEntries is the largest supported TLB.
	MaxTLBEntries = 64
	// MaxStackPages is the largest stack growth window, in pages.
	MaxStackPages = 1024
)

// Config is the configuration of a vmcore machine.
type Config struct {
	// Machine describes the simulated hardware.
	Machine Machine `json:"machine"`
	// Swap configures the swap device.
	Swap Swap `json:"swap"`
	// Log configures logging.
	Log logger.Options `json:"log"`
}

// Machine describes the simulated hardware.
type Machine struct {
	// Frames is the number of physical page frames.
	Frames int `json:"frames"`
	// TLBEntries is the number of TLB entries.
	TLBEntries int `json:"tlbEntries"`
	// StackPages is the size of the stack growth window below the top
	// of user space, in pages.
	StackPages int `json:"stackPages"`
}

// Swap configures the swap device.
type Swap struct {
	// Directory holds the per address space swap files.
	Directory string `json:"directory"`
	// Bandwidth limits swap I/O in pages per second, 0 for unlimited.
	Bandwidth int `json:"bandwidth,omitempty"`
	// Burst is the number of pages allowed to be transferred without
	// throttling, defaults to 1 when Bandwidth is set.
	Burst int `json:"burst,omitempty"`
	// SyncWrites forces page writes to stable storage.
	SyncWrites bool `json:"syncWrites,omitempty"`
	// WaitWarnInterval rate limits warnings about waiting for pinned frames.
	WaitWarnInterval Duration `json:"waitWarnInterval,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Machine: Machine{
			Frames:     128,
			TLBEntries: MaxTLBEntries,
			StackPages: 64,
		},
		Swap: Swap{
			Directory:        filepath.Join(os.TempDir(), "vmcore-swap"),
			WaitWarnInterval: Duration(5 * time.Second),
		},
		Log: logger.Options{
			Level:   logger.LevelInfo,
			Backend: logger.FmtBackendName,
		},
	}
}

// Parse parses a configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, configError("failed to parse configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads, parses and validates the given configuration file.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read configuration file: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, configError("%s: %v", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, reporting all problems found.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Machine.Frames < 1 || c.Machine.Frames > MaxFrames {
		errs = multierror.Append(errs,
			configError("machine.frames %d out of range [1, %d]", c.Machine.Frames, MaxFrames))
	}
	if c.Machine.TLBEntries < 1 || c.Machine.TLBEntries > MaxTLBEntries {
		errs = multierror.Append(errs,
			configError("machine.tlbEntries %d out of range [1, %d]", c.Machine.TLBEntries, MaxTLBEntries))
	}
	if c.Machine.StackPages < 1 || c.Machine.StackPages > MaxStackPages {
		errs = multierror.Append(errs,
			configError("machine.stackPages %d out of range [1, %d]", c.Machine.StackPages, MaxStackPages))
	}
	if c.Swap.Directory == "" {
		errs = multierror.Append(errs, configError("swap.directory not set"))
	}
	if c.Swap.Bandwidth < 0 {
		errs = multierror.Append(errs, configError("swap.bandwidth %d is negative", c.Swap.Bandwidth))
	}
	if c.Swap.Burst < 0 {
		errs = multierror.Append(errs, configError("swap.burst %d is negative", c.Swap.Burst))
	}
	if c.Swap.WaitWarnInterval < 0 {
		errs = multierror.Append(errs, configError("swap.waitWarnInterval is negative"))
	}

	return errs.ErrorOrNil()
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid configuration: %v>", err)
	}
	return string(data)
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
