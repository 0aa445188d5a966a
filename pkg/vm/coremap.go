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
)

// FrameStatus is the allocation state of a frame.
type FrameStatus int

const (
	// Available frames are free.
	Available FrameStatus = iota
	// Occupied frames hold evictable user pages.
	Occupied
	// Fixed frames are evicted only when no Occupied frame can be.
	Fixed
	// TempFixed frames are pinned while a load or swap is in flight.
	TempFixed
	// KernelFixed frames are never evicted.
	KernelFixed
)

func (s FrameStatus) String() string {
	switch s {
	case Available:
		return "available"
	case Occupied:
		return "occupied"
	case Fixed:
		return "fixed"
	case TempFixed:
		return "tempfixed"
	case KernelFixed:
		return "kfixed"
	}
	return fmt.Sprintf("<unknown frame status %d>", int(s))
}

// Frame is the coremap entry of a physical frame.
type Frame struct {
	// Status is the allocation state of the frame.
	Status FrameStatus
	// RunLength counts the frames of the allocation from this one to its end.
	RunLength int
	// Referenced is the clock bit.
	Referenced bool
	// Owner is the address space the frame belongs to, if any.
	Owner Handle
	// Back locates the leaf mapping the frame, if any.
	Back *LeafRef
}

// Coremap tracks the state of every physical frame.
type Coremap struct {
	frames []Frame
	hand   int
}

func newCoremap(frames int) *Coremap {
	return &Coremap{
		frames: make([]Frame, frames),
		hand:   frames - 1,
	}
}

// Len returns the number of frames.
func (c *Coremap) Len() int {
	return len(c.frames)
}

// Frame returns a copy of the entry of the given frame.
func (c *Coremap) Frame(i int) Frame {
	return c.frames[i]
}

// findRun returns the first frame of n contiguous available frames, or -1.
func (c *Coremap) findRun(n int) int {
	run := 0
	for i := range c.frames {
		if c.frames[i].Status != Available {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

// claim marks n frames starting at first as one allocation.
func (c *Coremap) claim(first, n int, status FrameStatus, owner Handle) {
	for k := 0; k < n; k++ {
		c.frames[first+k] = Frame{
			Status:    status,
			RunLength: n - k,
			Owner:     owner,
		}
	}
}

// release frees the allocation starting at first. Pinned frames keep their
// status, somebody is still working with them.
func (c *Coremap) release(first int) {
	f := &c.frames[first]
	if f.Status == Available {
		log.Panic("freeing available frame %d", first)
	}
	n := f.RunLength
	if n < 1 || first+n > len(c.frames) {
		log.Panic("frame %d: corrupt run length %d", first, n)
	}
	for k := 0; k < n; k++ {
		g := &c.frames[first+k]
		if g.Status == Available || g.RunLength+k != n {
			log.Panic("frame %d: inconsistent run (status %s, run length %d, expected %d)",
				first+k, g.Status, g.RunLength, n-k)
		}
		if g.Status != TempFixed {
			g.Status = Available
			g.RunLength = 0
			g.Referenced = false
		}
		g.Owner = Handle{}
		g.Back = nil
	}
}

// unpin releases a pinned single frame regardless of its status.
func (c *Coremap) unpin(i int) {
	c.frames[i] = Frame{}
}

// count returns the number of frames per status.
func (c *Coremap) count() map[FrameStatus]int {
	counts := map[FrameStatus]int{}
	for i := range c.frames {
		counts[c.frames[i].Status]++
	}
	return counts
}

// allocate allocates n contiguous frames. A single frame is reclaimed by
// eviction when none is free. Must be called with spl held, may suspend.
func (m *Manager) allocate(n int, status FrameStatus, owner Handle) (int, error) {
	if n < 1 || n > m.coremap.Len() {
		return -1, vmError(ErrInvalidArgument, "cannot allocate %d frames", n)
	}

	if first := m.coremap.findRun(n); first >= 0 {
		m.coremap.claim(first, n, status, owner)
		for k := 0; k < n; k++ {
			m.zeroFrame(first + k)
		}
		return first, nil
	}

	if n > 1 {
		return -1, vmError(ErrOutOfMemory, "no %d contiguous free frames", n)
	}

	victim := m.selectVictim()
	frame, err := m.evict(victim, status, owner)
	if err != nil {
		return -1, err
	}
	m.zeroFrame(frame)
	return frame, nil
}

// free releases the allocation starting at frame. Must be called with spl held.
func (m *Manager) free(frame int) {
	m.coremap.release(frame)
	m.unpinned.Broadcast()
}

// AllocPages allocates n contiguous frames with the given status for owner,
// which may be nil. It returns 0 on failure. The frames are not mapped by
// any page table, so they are never chosen for eviction and stay allocated
// until FreePages.
func (m *Manager) AllocPages(n int, status FrameStatus, owner *AddressSpace) Paddr {
	m.spl.Lock()
	defer m.spl.Unlock()

	var h Handle
	if owner != nil {
		h = owner.handle
	}
	frame, err := m.allocate(n, status, h)
	if err != nil {
		log.Debug("failed to allocate %d %s pages: %v", n, status, err)
		return 0
	}
	return frameAddress(frame)
}

// FreePages frees the allocation starting at the given physical address.
func (m *Manager) FreePages(pa Paddr) {
	m.spl.Lock()
	defer m.spl.Unlock()

	frame := frameIndex(pa, m.coremap.Len())
	if frame < 0 {
		log.Panic("freeing invalid physical address %s", pa)
	}
	m.free(frame)
}

// Frames returns a snapshot of the coremap.
func (m *Manager) Frames() []Frame {
	m.spl.Lock()
	defer m.spl.Unlock()

	frames := make([]Frame, m.coremap.Len())
	copy(frames, m.coremap.frames)
	return frames
}
