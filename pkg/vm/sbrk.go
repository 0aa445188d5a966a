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
	"github.com/pkg/errors"
)

// initHeap places the heap start at the first table boundary above the
// highest loaded region below the stack. Must be called with spl held.
func (as *AddressSpace) initHeap() {
	mi := MasterEntries - 1
	if as.tables[mi] != nil {
		// skip the stack
		for mi > 0 && as.tables[mi] != nil {
			mi--
		}
	}
	for ; mi > 0; mi-- {
		if as.tables[mi] != nil {
			break
		}
	}
	as.heapStart = PageAddress(mi+1, 0)
	as.heapEnd = as.heapStart
}

// Sbrk moves the heap break by delta bytes and returns the previous break.
// The heap grows at most SbrkMaxPages pages per call and never shrinks
// below its start.
func (as *AddressSpace) Sbrk(delta int) (Vaddr, error) {
	m := as.m
	m.spl.Lock()
	defer m.spl.Unlock()

	for {
		if as.destroyed {
			return 0, errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
		}
		if as.heapStart == 0 {
			as.initHeap()
		}

		old := as.heapEnd
		brk := int64(old) + int64(delta)
		switch {
		case brk < int64(as.heapStart):
			return 0, errors.Wrapf(ErrInvalidArgument, "break %#x below heap start %s", brk, as.heapStart)
		case delta > 0 && delta/PageSize >= SbrkMaxPages:
			return 0, errors.Wrapf(ErrInvalidArgument, "heap growth of %d bytes exceeds %d pages", delta, SbrkMaxPages)
		case brk > int64(PageAddress(MasterEntries-1, SecondaryEntries-m.stackPages)):
			return 0, errors.Wrapf(ErrOutOfMemory, "break %#x runs into the stack", brk)
		}

		first, last := pageSpan(old, Vaddr(brk))
		if delta < 0 {
			first, last = pageSpan(Vaddr(brk), old)
		}
		if first > last {
			as.heapEnd = Vaddr(brk)
			return old, nil
		}

		// allocating tables may suspend, start over once they are there
		missing := -1
		for mi := first >> 22; delta > 0 && mi <= last>>22; mi++ {
			if as.tables[mi] == nil {
				missing = int(mi)
				break
			}
		}
		if missing >= 0 {
			if err := as.ensureTable(missing); err != nil {
				return 0, err
			}
			continue
		}

		if delta < 0 && as.swapBusy(first, last) {
			m.waitUnlocked()
			continue
		}

		for va := first; va <= last; va += PageSize {
			mi, si := PageIndex(va)
			if delta > 0 {
				if e := as.tables[mi].get(si); e.IsZero() {
					as.tables[mi].set(si, reservedLeaf)
				}
				continue
			}
			as.dropPage(mi, si)
		}

		as.heapEnd = Vaddr(brk)
		log.Debug("%s: heap break %s -> %s", as.handle, old, as.heapEnd)
		return old, nil
	}
}

// pageSpan returns the first and last page entirely or partially in
// [start, end) that does not overlap with the page containing start-1.
func pageSpan(start, end Vaddr) (Vaddr, Vaddr) {
	first := (start + PageSize - 1) & PageFrame
	if end <= first {
		return 1, 0
	}
	last := (end - 1) & PageFrame
	return first, last
}

// swapBusy checks if any page in [first, last] has swap I/O in flight.
// Must be called with spl held.
func (as *AddressSpace) swapBusy(first, last Vaddr) bool {
	for va := first; va <= last; va += PageSize {
		if e, _ := as.leaf(PageIndex(va)); e.Lock {
			return true
		}
	}
	return false
}

// dropPage unmaps a page, releasing its frame and swap reference. The leaf
// must not be locked. Must be called with spl held.
func (as *AddressSpace) dropPage(mi, si int) {
	t := as.tables[mi]
	if t == nil {
		return
	}
	e := t.get(si)
	if e.Lock {
		log.Panic("%s: dropping locked leaf %s", LeafRef{AS: as.handle, Master: mi, Secondary: si}, e)
	}
	if e.Valid {
		if as.m.current == as {
			as.m.tlb.invalidateFrame(e.Frame)
		}
		if as.m.coremap.frames[e.Frame].Status == TempFixed {
			as.m.unpinFrame(e.Frame)
		} else {
			as.m.free(e.Frame)
		}
	}
	t.set(si, LeafEntry{})
}
