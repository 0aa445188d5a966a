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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwapFile(t *testing.T) {
	f, err := createSwapFile(t.TempDir(), "SW0", true)
	require.NoError(t, err)
	require.Equal(t, "SW0", f.Name())

	slot, err := f.allocSlot()
	require.NoError(t, err)
	require.Equal(t, 1, slot)

	page := bytes.Repeat([]byte{0x5a}, PageSize)
	require.NoError(t, f.WritePage(slot, page))
	buf := make([]byte, PageSize)
	require.NoError(t, f.ReadPage(slot, buf))
	require.Equal(t, page, buf)

	require.ErrorIs(t, f.ReadPage(2, buf), ErrSwapIO)
	require.ErrorIs(t, f.WritePage(0, page), ErrSwapIO)
	require.ErrorIs(t, f.WritePage(slot, page[:100]), ErrSwapIO)

	f.slots = MaxSwapSlots
	_, err = f.allocSlot()
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	require.ErrorIs(t, f.ReadPage(slot, buf), ErrSwapIO)
}

func TestEvictionRoundTrip(t *testing.T) {
	const frames = 8
	const pages = 2 * frames

	m := newTestManager(t, frames)
	as := newTestSpace(t, m)
	th := m.NewThread(as)

	for i := 0; i < pages; i++ {
		require.NoError(t, th.StoreWord(stackPage(i)+8, uint32(0xc0de0000+i)))
	}
	for i := 0; i < pages; i++ {
		w, err := th.LoadWord(stackPage(i) + 8)
		require.NoError(t, err)
		require.Equal(t, uint32(0xc0de0000+i), w, "page #%d", i)
	}
	checkCoremap(t, m)

	for i := 0; i < pages; i++ {
		e, ok := as.Lookup(stackPage(i))
		require.True(t, ok)
		require.True(t, e.Valid || e.OnSwap(), "page #%d: %s", i, e)
		require.False(t, e.Lock)
	}

	c := m.Stats().Counters()
	require.NotZero(t, c.Evictions)
	require.NotZero(t, c.SwapWrites)
	require.NotZero(t, c.SwapReads)
	require.NotZero(t, as.SwapSlots())
	require.Equal(t, frames-1, m.FrameCounts()[Occupied])
}

func TestCleanPagesAreNotRewritten(t *testing.T) {
	const frames = 8
	const pages = 2 * frames

	m := newTestManager(t, frames)
	as := newTestSpace(t, m)
	th := m.NewThread(as)

	for i := 0; i < pages; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(i)))
	}
	for pass := 0; pass < 4; pass++ {
		for i := 0; i < pages; i++ {
			w, err := th.LoadWord(stackPage(i))
			require.NoError(t, err)
			require.Equal(t, uint32(i), w)
		}
	}

	// every page is written to swap at most once, when evicted dirty
	c := m.Stats().Counters()
	require.LessOrEqual(t, c.SwapWrites, uint64(pages))
	require.LessOrEqual(t, as.SwapSlots(), pages)
	require.NotZero(t, c.CleanEvictions)
}

func TestReadOnlyFaultAfterSwapIn(t *testing.T) {
	const pages = 6

	m := newTestManager(t, 4)
	as := newTestSpace(t, m)
	th := m.NewThread(as)
	for i := 0; i < pages; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(i)))
	}

	swapped := -1
	for i := 0; i < pages && swapped < 0; i++ {
		if e, _ := as.Lookup(stackPage(i)); e.OnSwap() {
			swapped = i
		}
	}
	require.NotEqual(t, -1, swapped, "no page got swapped out")
	va := stackPage(swapped)

	w, err := th.LoadWord(va)
	require.NoError(t, err)
	require.Equal(t, uint32(swapped), w)
	e, _ := as.Lookup(va)
	require.True(t, e.Valid)
	require.False(t, e.Dirty)

	readOnly := m.Stats().Counters().Faults[FaultReadOnly]
	require.NoError(t, th.StoreWord(va, 0xffff))
	require.Equal(t, readOnly+1, m.Stats().Counters().Faults[FaultReadOnly])
	e, _ = as.Lookup(va)
	require.True(t, e.Dirty)
}

func TestFailedWriteBackKeepsPage(t *testing.T) {
	m := newTestManager(t, 4)
	a := newTestSpace(t, m)
	ta := m.NewThread(a)
	for i := 0; i < 3; i++ {
		require.NoError(t, ta.StoreWord(stackPage(i), uint32(i)))
	}
	require.Zero(t, m.FrameCounts()[Available])
	require.NoError(t, a.SwapFile().Close())

	b := newTestSpace(t, m)
	err := m.NewThread(b).StoreWord(stackPage(0), 1)
	require.ErrorIs(t, err, ErrSwapIO)
	checkCoremap(t, m)
	require.Equal(t, 3, m.FrameCounts()[Occupied])

	for i := 0; i < 3; i++ {
		w, err := ta.LoadWord(stackPage(i))
		require.NoError(t, err)
		require.Equal(t, uint32(i), w)
	}
}
