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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKernelPages(t *testing.T) {
	m := newTestManager(t, 16)

	kva := m.AllocKernelPages(3)
	require.Equal(t, KernelBase+Vaddr(FirstPaddr), kva)
	checkCoremap(t, m)
	frames := m.Frames()
	for k, run := range []int{3, 2, 1} {
		require.Equal(t, KernelFixed, frames[k].Status)
		require.Equal(t, run, frames[k].RunLength)
	}
	require.Equal(t, Available, frames[3].Status)

	mem := m.KernelMemory(kva, 3)
	require.Len(t, mem, 3*PageSize)
	mem[0], mem[len(mem)-1] = 0xaa, 0x55

	other := m.AllocKernelPages(1)
	require.Equal(t, kva+3*PageSize, other)

	m.FreeKernelPages(kva)
	checkCoremap(t, m)
	require.Equal(t, 15, m.FrameCounts()[Available])

	again := m.AllocKernelPages(3)
	require.Equal(t, kva, again)
	mem = m.KernelMemory(again, 3)
	require.Zero(t, mem[0], "reused pages must be zeroed")
	require.Zero(t, mem[len(mem)-1], "reused pages must be zeroed")

	m.FreeKernelPages(again)
	m.FreeKernelPages(other)
	require.Equal(t, 16, m.FrameCounts()[Available])
}

func TestAllocPages(t *testing.T) {
	tcases := []struct {
		name   string
		allocs []int
		expect []Paddr
		counts map[FrameStatus]int
	}{
		{
			name:   "first fit",
			allocs: []int{1, 2, 1},
			expect: []Paddr{FirstPaddr, FirstPaddr + PageSize, FirstPaddr + 3*PageSize},
			counts: map[FrameStatus]int{Fixed: 4, Available: 4},
		},
		{
			name:   "whole memory",
			allocs: []int{8},
			expect: []Paddr{FirstPaddr},
			counts: map[FrameStatus]int{Fixed: 8},
		},
		{
			name:   "no contiguous run",
			allocs: []int{6, 3},
			expect: []Paddr{FirstPaddr, 0},
			counts: map[FrameStatus]int{Fixed: 6, Available: 2},
		},
		{
			name:   "invalid count",
			allocs: []int{0, 9},
			expect: []Paddr{0, 0},
			counts: map[FrameStatus]int{Available: 8},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, 8)
			for i, n := range tc.allocs {
				require.Equal(t, tc.expect[i], m.AllocPages(n, Fixed, nil), "allocation #%d", i)
			}
			checkCoremap(t, m)
			counts := m.FrameCounts()
			for status, count := range tc.counts {
				require.Equal(t, count, counts[status], "%s frames", status)
			}
		})
	}
}

func TestFreeAvailableFramePanics(t *testing.T) {
	m := newTestManager(t, 4)
	pa := m.AllocPages(1, Fixed, nil)
	m.FreePages(pa)
	require.Panics(t, func() { m.FreePages(pa) })
}

func TestReleaseKeepsPinnedFrames(t *testing.T) {
	c := newCoremap(4)
	c.claim(0, 1, Fixed, Handle{})
	c.claim(1, 2, TempFixed, Handle{})
	c.release(1)
	require.Equal(t, TempFixed, c.Frame(1).Status)
	require.Equal(t, TempFixed, c.Frame(2).Status)

	c.unpin(1)
	c.unpin(2)
	require.Equal(t, 1, c.findRun(3))
	require.Equal(t, -1, c.findRun(4))
}

func TestAllocatedPagesAreNotEvicted(t *testing.T) {
	const frames = 4

	m := newTestManager(t, frames)
	as := newTestSpace(t, m)
	pa := m.AllocPages(1, Occupied, as)
	require.NotZero(t, pa)

	th := m.NewThread(as)
	for i := 0; i < frames; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(i)))
	}
	require.NotZero(t, m.Stats().Counters().Evictions)

	f := m.Frames()[frameIndex(pa, frames)]
	require.Equal(t, Occupied, f.Status)
	require.Equal(t, as.Handle(), f.Owner)
	require.Nil(t, f.Back)

	m.FreePages(pa)
	checkCoremap(t, m)
}
