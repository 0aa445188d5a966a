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

// Package workload implements user programs exercising a vm machine.
package workload

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	logger "github.com/intel/vmcore/pkg/log"
	"github.com/intel/vmcore/pkg/vm"
)

const (
	// MatmultName is the name of the matrix multiplication workload.
	MatmultName = "matmult"
	// TouchName is the name of the sequential page toucher.
	TouchName = "touch"
)

// DataBase is where workloads lay out their data region.
const DataBase = vm.Vaddr(0x10000000)

var log = logger.Get("workload")

// Options parameterize a workload run.
type Options struct {
	// Dim is the matrix dimension of matmult.
	Dim int
	// Pages is the number of pages touch writes.
	Pages int
}

// DefaultOptions returns the options of the reference runs.
func DefaultOptions() Options {
	return Options{
		Dim:   MatmultDim,
		Pages: 64,
	}
}

// Result is the outcome of a workload run.
type Result struct {
	// Name of the workload.
	Name string
	// Value is the answer computed by the workload.
	Value int64
	// Elapsed is the wall clock time of the run.
	Elapsed time.Duration
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: answer %d in %s", r.Name, r.Value, r.Elapsed.Round(time.Millisecond))
}

type runFn func(th *vm.Thread, o Options) (int64, error)

var workloads = map[string]runFn{
	MatmultName: func(th *vm.Thread, o Options) (int64, error) {
		r, err := Matmult(th, o.Dim)
		return int64(r), err
	},
	TouchName: func(th *vm.Thread, o Options) (int64, error) {
		return int64(o.Pages), Touch(th, o.Pages)
	},
}

// Names returns the names of the available workloads.
func Names() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run runs the named workload in a fresh address space of m, which is
// destroyed once the workload is done.
func Run(m *vm.Manager, name string, o Options) (*Result, error) {
	fn, ok := workloads[name]
	if !ok {
		return nil, errors.Errorf("unknown workload %q", name)
	}

	as, err := m.Create()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to create address space", name)
	}

	log.Info("running %s in %s...", name, as)
	start := time.Now()
	value, err := fn(m.NewThread(as), o)
	elapsed := time.Since(start)

	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, name))
	}
	if err := as.Destroy(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		log.Error("%s failed: %v", name, err)
		return nil, err
	}

	r := &Result{Name: name, Value: value, Elapsed: elapsed}
	log.Info("%s", r)
	return r, nil
}

// memory latches the first error of a sequence of word accesses.
type memory struct {
	th  *vm.Thread
	err error
}

func (mem *memory) load(va vm.Vaddr) int32 {
	if mem.err != nil {
		return 0
	}
	w, err := mem.th.LoadWord(va)
	if err != nil {
		mem.err = err
		return 0
	}
	return int32(w)
}

func (mem *memory) store(va vm.Vaddr, v int32) {
	if mem.err != nil {
		return
	}
	mem.err = mem.th.StoreWord(va, uint32(v))
}
