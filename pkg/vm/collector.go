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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	framesDesc = iota
	faultsDesc
	faultErrorsDesc
	tlbRefillsDesc
	contextSwitchesDesc
	victimsDesc
	victimWaitsDesc
	lockWaitsDesc
	evictionsDesc
	swapPagesDesc
	addressSpacesDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	framesDesc: prometheus.NewDesc(
		"vm_frames",
		"Number of physical frames by status.",
		[]string{"status"}, nil,
	),
	faultsDesc: prometheus.NewDesc(
		"vm_page_faults_total",
		"Number of page faults handled by kind.",
		[]string{"kind"}, nil,
	),
	faultErrorsDesc: prometheus.NewDesc(
		"vm_page_fault_errors_total",
		"Number of failed page faults by error.",
		[]string{"error"}, nil,
	),
	tlbRefillsDesc: prometheus.NewDesc(
		"vm_tlb_refills_total",
		"Number of TLB refills, by whether a valid entry was replaced.",
		[]string{"replaced"}, nil,
	),
	contextSwitchesDesc: prometheus.NewDesc(
		"vm_context_switches_total",
		"Number of address space activations flushing the TLB.",
		nil, nil,
	),
	victimsDesc: prometheus.NewDesc(
		"vm_victims_total",
		"Number of frames selected for eviction by frame status.",
		[]string{"status"}, nil,
	),
	victimWaitsDesc: prometheus.NewDesc(
		"vm_victim_waits_total",
		"Number of times victim selection waited for a pinned frame.",
		nil, nil,
	),
	lockWaitsDesc: prometheus.NewDesc(
		"vm_lock_waits_total",
		"Number of times a page table update waited for swap I/O on the page.",
		nil, nil,
	),
	evictionsDesc: prometheus.NewDesc(
		"vm_evictions_total",
		"Number of evictions by whether the page had to be written to swap.",
		[]string{"writeback"}, nil,
	),
	swapPagesDesc: prometheus.NewDesc(
		"vm_swap_pages_total",
		"Number of pages transferred to or from swap.",
		[]string{"direction"}, nil,
	),
	addressSpacesDesc: prometheus.NewDesc(
		"vm_address_spaces_total",
		"Number of address spaces created and destroyed.",
		[]string{"event"}, nil,
	),
}

type collector struct {
	m *Manager
}

// NewCollector creates a Prometheus collector for the manager.
func NewCollector(m *Manager) prometheus.Collector {
	return &collector{m: m}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

func counter(ch chan<- prometheus.Metric, desc int, value uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(descriptors[desc], prometheus.CounterValue, float64(value), labels...)
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	counts := c.m.FrameCounts()
	for _, status := range []FrameStatus{Available, Occupied, Fixed, TempFixed, KernelFixed} {
		ch <- prometheus.MustNewConstMetric(descriptors[framesDesc],
			prometheus.GaugeValue, float64(counts[status]), status.String())
	}

	s := c.m.stats.Counters()
	for _, kind := range []FaultKind{FaultRead, FaultWrite, FaultReadOnly} {
		counter(ch, faultsDesc, s.Faults[kind], kind.String())
	}
	for name, count := range s.FaultErrors {
		counter(ch, faultErrorsDesc, count, name)
	}
	counter(ch, tlbRefillsDesc, s.TLBRefills-s.TLBReplacements, "false")
	counter(ch, tlbRefillsDesc, s.TLBReplacements, "true")
	counter(ch, contextSwitchesDesc, s.ContextSwitches)
	counter(ch, victimsDesc, s.Victims[0], Occupied.String())
	counter(ch, victimsDesc, s.Victims[1], Fixed.String())
	counter(ch, victimWaitsDesc, s.VictimWaits)
	counter(ch, lockWaitsDesc, s.LockWaits)
	counter(ch, evictionsDesc, s.Evictions-s.CleanEvictions, "true")
	counter(ch, evictionsDesc, s.CleanEvictions, "false")
	counter(ch, swapPagesDesc, s.SwapWrites, "out")
	counter(ch, swapPagesDesc, s.SwapReads, "in")
	counter(ch, addressSpacesDesc, s.SpacesCreated, "created")
	counter(ch, addressSpacesDesc, s.SpacesDestroyed, "destroyed")
}
