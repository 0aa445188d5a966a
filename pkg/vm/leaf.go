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
	"encoding/binary"
	"fmt"
	"strings"
)

// Bits of an encoded leaf word.
const (
	leafValid uint32 = 0x200
	leafDirty uint32 = 0x400
	leafLock  uint32 = 0x800

	leafFrameShift = 12
	leafFrameMask  = MaxFrames - 1
	leafSlotShift  = 20
	leafSlotMask   = MaxSwapSlots
	leafFlagMask   = leafValid | leafDirty | leafLock
)

// LeafEntry is a page table leaf mapping one virtual page.
type LeafEntry struct {
	// Frame is the frame holding the page, meaningful only if Valid.
	Frame int
	// SwapSlot is the 1-based swap slot of the page, 0 if never written.
	SwapSlot int
	// Valid is set when the page is resident in Frame.
	Valid bool
	// Dirty is set when the page may differ from its swap copy. Stores
	// to a resident page that is not dirty raise a read-only fault.
	Dirty bool
	// Lock is set while swap I/O on the page is in flight.
	Lock bool
}

// reservedLeaf marks a page that exists but has no content yet.
var reservedLeaf = LeafEntry{Dirty: true}

// IsZero returns true for a leaf that was never touched.
func (e LeafEntry) IsZero() bool {
	return e == LeafEntry{}
}

// OnSwap returns true if the content of the page is only in swap.
func (e LeafEntry) OnSwap() bool {
	return !e.Valid && e.SwapSlot != 0
}

// Word encodes the leaf as a 32-bit page table word.
func (e LeafEntry) Word() uint32 {
	w := uint32(e.SwapSlot&leafSlotMask)<<leafSlotShift |
		uint32(e.Frame&leafFrameMask)<<leafFrameShift
	if e.Valid {
		w |= leafValid
	}
	if e.Dirty {
		w |= leafDirty
	}
	if e.Lock {
		w |= leafLock
	}
	return w
}

// DecodeLeaf decodes a 32-bit page table word.
func DecodeLeaf(w uint32) LeafEntry {
	return LeafEntry{
		Frame:    int(w>>leafFrameShift) & leafFrameMask,
		SwapSlot: int(w>>leafSlotShift) & leafSlotMask,
		Valid:    w&leafValid != 0,
		Dirty:    w&leafDirty != 0,
		Lock:     w&leafLock != 0,
	}
}

func (e LeafEntry) String() string {
	flags := []string{}
	if e.Valid {
		flags = append(flags, "V")
	}
	if e.Dirty {
		flags = append(flags, "D")
	}
	if e.Lock {
		flags = append(flags, "L")
	}
	return fmt.Sprintf("{frame:%d slot:%d %s}", e.Frame, e.SwapSlot, strings.Join(flags, ""))
}

// SecondaryTable is a table of leaves stored in a kernel page.
type SecondaryTable struct {
	kva   Vaddr
	words []byte
}

func (t *SecondaryTable) get(i int) LeafEntry {
	return DecodeLeaf(binary.LittleEndian.Uint32(t.words[4*i:]))
}

func (t *SecondaryTable) set(i int, e LeafEntry) {
	binary.LittleEndian.PutUint32(t.words[4*i:], e.Word())
}

// LeafRef locates a leaf in the page tables of an address space.
type LeafRef struct {
	AS        Handle
	Master    int
	Secondary int
}

// Vaddr returns the virtual address of the page the leaf maps.
func (r LeafRef) Vaddr() Vaddr {
	return PageAddress(r.Master, r.Secondary)
}

func (r LeafRef) String() string {
	return fmt.Sprintf("%s:%s", r.AS, r.Vaddr())
}
