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

// Handle refers to an address space without keeping it alive. A handle
// of a destroyed address space no longer resolves.
type Handle struct {
	index int
	gen   uint32
}

// IsNil returns true for the zero Handle.
func (h Handle) IsNil() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	if h.IsNil() {
		return "-"
	}
	return fmt.Sprintf("as%d.%d", h.index, h.gen)
}

// arena holds the live address spaces.
type arena struct {
	slots []arenaSlot
	free  []int
}

type arenaSlot struct {
	gen uint32
	as  *AddressSpace
}

// add stores as in a free slot and returns its handle.
func (a *arena) add(as *AddressSpace) Handle {
	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = len(a.slots)
		a.slots = append(a.slots, arenaSlot{})
	}
	slot := &a.slots[idx]
	slot.gen++
	slot.as = as
	return Handle{index: idx, gen: slot.gen}
}

// remove invalidates the handle and frees its slot.
func (a *arena) remove(h Handle) {
	if a.resolve(h) == nil {
		return
	}
	slot := &a.slots[h.index]
	slot.as = nil
	slot.gen++
	a.free = append(a.free, h.index)
}

// resolve returns the address space of a handle, nil if it is gone.
func (a *arena) resolve(h Handle) *AddressSpace {
	if h.IsNil() || h.index >= len(a.slots) {
		return nil
	}
	slot := &a.slots[h.index]
	if slot.gen != h.gen {
		return nil
	}
	return slot.as
}

// live returns all live address spaces.
func (a *arena) live() []*AddressSpace {
	spaces := []*AddressSpace{}
	for _, slot := range a.slots {
		if slot.as != nil {
			spaces = append(spaces, slot.as)
		}
	}
	return spaces
}
