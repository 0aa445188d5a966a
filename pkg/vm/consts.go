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

// Vaddr is a virtual address.
type Vaddr uint32

// Paddr is a physical address.
type Paddr uint32

const (
	// PageSize is the size of a page and a frame.
	PageSize = 4096
	// PageShift is log2(PageSize).
	PageShift = 12
	// PageFrame masks the page part of an address.
	PageFrame = ^Vaddr(PageSize - 1)

	// MasterEntries is the number of secondary tables per address space.
	MasterEntries = 512
	// SecondaryEntries is the number of leaves per secondary table.
	SecondaryEntries = 1024

	// FirstPaddr is the physical address of the first managed frame.
	FirstPaddr Paddr = 0x00010000
	// KernelBase is where physical memory is mapped in kernel virtual space.
	KernelBase Vaddr = 0x80000000
	// UserTop is the end of user space and the initial stack pointer.
	UserTop Vaddr = 0x80000000

	// MaxFrames is the largest number of frames a leaf can address.
	MaxFrames = 1 << 8
	// MaxSwapSlots is the largest number of swap slots per address space.
	MaxSwapSlots = 1<<12 - 1

	// SbrkMaxPages limits the growth of the heap by a single Sbrk call.
	SbrkMaxPages = 256
)

// PageIndex splits a virtual address into master and secondary indices.
func PageIndex(va Vaddr) (master, secondary int) {
	return int(va >> 22), int((va >> PageShift) & (SecondaryEntries - 1))
}

// PageAddress returns the virtual address of the page at the given indices.
func PageAddress(master, secondary int) Vaddr {
	return Vaddr(master)<<22 | Vaddr(secondary)<<PageShift
}

func (va Vaddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(va))
}

func (pa Paddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(pa))
}

// frameAddress returns the physical address of a frame.
func frameAddress(frame int) Paddr {
	return FirstPaddr + Paddr(frame)*PageSize
}

// frameIndex returns the frame of a physical address, or -1.
func frameIndex(pa Paddr, frames int) int {
	if pa < FirstPaddr || (pa-FirstPaddr)%PageSize != 0 {
		return -1
	}
	i := int((pa - FirstPaddr) / PageSize)
	if i >= frames {
		return -1
	}
	return i
}
