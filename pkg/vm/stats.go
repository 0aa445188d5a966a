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

package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Stats collects event counters of a Manager.
type Stats struct {
	sync.Mutex
	c Counters
}

// Counters is a snapshot of the event counters.
type Counters struct {
	Faults          map[FaultKind]uint64
	FaultErrors     map[string]uint64
	TLBRefills      uint64
	TLBReplacements uint64
	ContextSwitches uint64
	Victims         [2]uint64
	VictimWaits     uint64
	LockWaits       uint64
	Evictions       uint64
	CleanEvictions  uint64
	SwapWrites      uint64
	SwapReads       uint64
	SpacesCreated   uint64
	SpacesDestroyed uint64
}

// StatsFault records a handled page fault.
type StatsFault struct {
	Kind FaultKind
	Err  error
}

// StatsTLBRefill records a TLB refill.
type StatsTLBRefill struct {
	Slot     int
	Replaced bool
}

// StatsContextSwitch records a TLB flush on address space activation.
type StatsContextSwitch struct{}

// StatsVictim records a victim selection.
type StatsVictim struct {
	Pass  int
	Frame int
}

// StatsVictimWait records waiting for a pinned frame.
type StatsVictimWait struct{}

// StatsLockWait records waiting for swap I/O on a locked leaf.
type StatsLockWait struct{}

// StatsEviction records an eviction.
type StatsEviction struct {
	Frame int
	Clean bool
}

// StatsSwap records a page transferred to or from swap.
type StatsSwap struct {
	Write bool
}

// StatsAddressSpace records an address space created or destroyed.
type StatsAddressSpace struct {
	Created bool
}

func newStats() *Stats {
	return &Stats{
		c: Counters{
			Faults:      make(map[FaultKind]uint64),
			FaultErrors: make(map[string]uint64),
		},
	}
}

// Store records an event.
func (s *Stats) Store(entry interface{}) {
	s.Lock()
	defer s.Unlock()

	switch v := entry.(type) {
	case StatsFault:
		s.c.Faults[v.Kind]++
		if v.Err != nil {
			s.c.FaultErrors[faultErrorName(v.Err)]++
		}
	case StatsTLBRefill:
		s.c.TLBRefills++
		if v.Replaced {
			s.c.TLBReplacements++
		}
	case StatsContextSwitch:
		s.c.ContextSwitches++
	case StatsVictim:
		s.c.Victims[v.Pass]++
	case StatsVictimWait:
		s.c.VictimWaits++
	case StatsLockWait:
		s.c.LockWaits++
	case StatsEviction:
		s.c.Evictions++
		if v.Clean {
			s.c.CleanEvictions++
		}
	case StatsSwap:
		if v.Write {
			s.c.SwapWrites++
		} else {
			s.c.SwapReads++
		}
	case StatsAddressSpace:
		if v.Created {
			s.c.SpacesCreated++
		} else {
			s.c.SpacesDestroyed++
		}
	}
}

// Counters returns a snapshot of the counters.
func (s *Stats) Counters() Counters {
	s.Lock()
	defer s.Unlock()

	c := s.c
	c.Faults = make(map[FaultKind]uint64, len(s.c.Faults))
	for k, v := range s.c.Faults {
		c.Faults[k] = v
	}
	c.FaultErrors = make(map[string]uint64, len(s.c.FaultErrors))
	for k, v := range s.c.FaultErrors {
		c.FaultErrors[k] = v
	}
	return c
}

// Summarize returns the counters as text tables.
func (s *Stats) Summarize() string {
	c := s.Counters()
	lines := []string{}
	lines = append(lines, "table: faults")
	lines = append(lines, "    count kind")
	for _, kind := range []FaultKind{FaultRead, FaultWrite, FaultReadOnly} {
		lines = append(lines, fmt.Sprintf("%9d %s", c.Faults[kind], kind))
	}
	lines = append(lines, "table: fault errors")
	lines = append(lines, "    count error")
	names := make([]string, 0, len(c.FaultErrors))
	for name := range c.FaultErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%9d %s", c.FaultErrors[name], name))
	}
	lines = append(lines, "table: tlb")
	lines = append(lines, "  refills replaced switches")
	lines = append(lines, fmt.Sprintf("%9d %8d %8d", c.TLBRefills, c.TLBReplacements, c.ContextSwitches))
	lines = append(lines, "table: reclaim")
	lines = append(lines, " occupied    fixed    waits   lockwt  evicted    clean   swpout    swpin")
	lines = append(lines, fmt.Sprintf("%9d %8d %8d %8d %8d %8d %8d %8d",
		c.Victims[0], c.Victims[1], c.VictimWaits, c.LockWaits,
		c.Evictions, c.CleanEvictions, c.SwapWrites, c.SwapReads))
	lines = append(lines, "table: address spaces")
	lines = append(lines, "  created destroyed")
	lines = append(lines, fmt.Sprintf("%9d %9d", c.SpacesCreated, c.SpacesDestroyed))
	return strings.Join(lines, "\n")
}

func faultErrorName(err error) string {
	for _, known := range []error{ErrBadAddress, ErrOutOfMemory, ErrInvalidFaultKind, ErrSwapIO, ErrInvalidArgument} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "other"
}
