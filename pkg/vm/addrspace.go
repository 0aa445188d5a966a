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

	"github.com/pkg/errors"
)

// LoadMode selects how PrepareLoad populates a range.
type LoadMode int

const (
	// GetPage allocates a frame for the page right away.
	GetPage LoadMode = iota
	// GetEntry only reserves the leaf, the page is allocated on first access.
	GetEntry
)

func (mode LoadMode) String() string {
	switch mode {
	case GetPage:
		return "getpage"
	case GetEntry:
		return "getentry"
	}
	return fmt.Sprintf("<unknown load mode %d>", int(mode))
}

// Protection is a set of page access permissions. All pages are
// currently mapped read-write regardless of the requested protection.
type Protection int

const (
	// ProtRead allows loads.
	ProtRead Protection = 1 << iota
	// ProtWrite allows stores.
	ProtWrite
	// ProtExec allows instruction fetches.
	ProtExec
)

// AddressSpace is a virtual address space with a two-level page table.
type AddressSpace struct {
	m         *Manager
	handle    Handle
	tables    [MasterEntries]*SecondaryTable
	swap      *SwapFile
	heapStart Vaddr
	heapEnd   Vaddr
	destroyed bool
}

// Create creates an empty address space with a fresh swap file.
func (m *Manager) Create() (*AddressSpace, error) {
	m.spl.Lock()
	name := fmt.Sprintf("SW%d", m.swapSeq)
	m.swapSeq++
	m.spl.Unlock()

	swap, err := createSwapFile(m.swapDir, name, m.syncSwap)
	if err != nil {
		return nil, err
	}

	m.spl.Lock()
	defer m.spl.Unlock()

	as := &AddressSpace{m: m, swap: swap}
	as.handle = m.spaces.add(as)
	m.stats.Store(StatsAddressSpace{Created: true})
	log.Debug("%s: created, swap file %s", as.handle, swap.Name())

	return as, nil
}

// Handle returns the handle of the address space.
func (as *AddressSpace) Handle() Handle {
	return as.handle
}

func (as *AddressSpace) String() string {
	return as.handle.String()
}

// SwapFile returns the swap file of the address space.
func (as *AddressSpace) SwapFile() *SwapFile {
	return as.swap
}

// SwapSlots returns the number of swap slots allocated so far.
func (as *AddressSpace) SwapSlots() int {
	as.m.spl.Lock()
	defer as.m.spl.Unlock()
	return as.swap.slots
}

// Heap returns the start and the current break of the heap.
func (as *AddressSpace) Heap() (Vaddr, Vaddr) {
	as.m.spl.Lock()
	defer as.m.spl.Unlock()
	return as.heapStart, as.heapEnd
}

// Lookup returns the leaf mapping va and whether its secondary table exists.
func (as *AddressSpace) Lookup(va Vaddr) (LeafEntry, bool) {
	as.m.spl.Lock()
	defer as.m.spl.Unlock()
	mi, si := PageIndex(va)
	if as.destroyed || mi >= MasterEntries {
		return LeafEntry{}, false
	}
	return as.leaf(mi, si)
}

// leaf returns a leaf and whether its table exists. Must be called with spl held.
func (as *AddressSpace) leaf(mi, si int) (LeafEntry, bool) {
	t := as.tables[mi]
	if t == nil {
		return LeafEntry{}, false
	}
	return t.get(si), true
}

// ensureTable allocates the secondary table mi if it does not exist yet.
// Must be called with spl held, may suspend.
func (as *AddressSpace) ensureTable(mi int) error {
	if as.tables[mi] != nil {
		return nil
	}
	t, err := as.m.newSecondaryTable()
	if err != nil {
		return err
	}
	switch {
	case as.destroyed:
		as.m.freeKernel(t.kva)
		return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
	case as.tables[mi] != nil:
		as.m.freeKernel(t.kva)
	default:
		as.tables[mi] = t
	}
	return nil
}

// loadPage maps a fresh zeroed frame with the given status at leaf mi/si.
// It returns raced if the leaf changed while the frame was allocated.
// Must be called with spl held, may suspend.
func (as *AddressSpace) loadPage(mi, si int, status FrameStatus) (frame int, raced bool, err error) {
	m := as.m
	if err := as.ensureTable(mi); err != nil {
		return -1, false, err
	}
	before := as.tables[mi].get(si)
	frame, err = m.allocate(1, status, as.handle)
	if err != nil {
		return -1, false, err
	}
	if as.destroyed {
		m.unpinFrame(frame)
		return -1, false, errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
	}

	e := as.tables[mi].get(si)
	if e != before || e.Valid || e.Lock || e.OnSwap() {
		m.unpinFrame(frame)
		return -1, true, nil
	}
	e.Frame = frame
	e.Valid = true
	e.Dirty = true
	as.tables[mi].set(si, e)
	m.coremap.frames[frame].Back = &LeafRef{AS: as.handle, Master: mi, Secondary: si}

	return frame, false, nil
}

// swapInPage brings the page of leaf mi/si back from swap. It returns raced
// if somebody else changed the leaf while a frame was allocated. Must be
// called with spl held, suspends.
func (as *AddressSpace) swapInPage(mi, si int) (raced bool, err error) {
	m := as.m
	frame, err := m.allocate(1, TempFixed, as.handle)
	if err != nil {
		return false, err
	}
	if as.destroyed {
		m.unpinFrame(frame)
		return false, errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
	}

	e := as.tables[mi].get(si)
	if e.Valid || e.Lock || !e.OnSwap() {
		m.unpinFrame(frame)
		return true, nil
	}
	e.Lock = true
	as.tables[mi].set(si, e)

	err = m.swapIn(as.swap, e.SwapSlot, frame)

	if as.destroyed {
		m.unpinFrame(frame)
		m.unlocked.Broadcast()
		return false, errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
	}
	e = as.tables[mi].get(si)
	e.Lock = false
	if err == nil {
		e.Frame = frame
		e.Valid = true
		e.Dirty = false
	}
	as.tables[mi].set(si, e)
	m.unlocked.Broadcast()

	if err != nil {
		m.unpinFrame(frame)
		return false, err
	}

	m.coremap.frames[frame].Back = &LeafRef{AS: as.handle, Master: mi, Secondary: si}
	return false, as.completeLoad(Occupied, mi, si)
}

// PrepareLoad sets up the leaves of a range of at most two secondary
// tables. In GetEntry mode the leaves are only reserved. In GetPage mode,
// which is limited to a single page, a frame with the given status is
// mapped right away; a TempFixed page must be released by CompleteLoad.
func (as *AddressSpace) PrepareLoad(va Vaddr, size int, prot Protection, status FrameStatus, mode LoadMode) error {
	m := as.m
	m.spl.Lock()
	defer m.spl.Unlock()

	if as.destroyed {
		return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
	}
	if size <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "invalid load size %d", size)
	}

	size += int(va &^ PageFrame)
	va &= PageFrame
	npages := (size + PageSize - 1) / PageSize
	if uint64(va)+uint64(npages)*PageSize > uint64(UserTop) {
		return errors.Wrapf(ErrBadAddress, "cannot load %d pages at %s", npages, va)
	}

	master, secondary := PageIndex(va)
	switch {
	case secondary+npages > 2*SecondaryEntries:
		return errors.Wrapf(ErrInvalidArgument, "%d pages at %s span more than two page tables", npages, va)
	case mode == GetPage && npages != 1:
		return errors.Wrapf(ErrInvalidArgument, "%s loads a single page, got %d", mode, npages)
	case mode != GetPage && mode != GetEntry:
		return errors.Wrapf(ErrInvalidArgument, "unknown load mode %s", mode)
	}

	log.Debug("%s: prepare load of %d pages at %s (%s, %s)", as.handle, npages, va, mode, status)

	last, _ := PageIndex(va + Vaddr((npages-1)*PageSize))
	for mi := master; mi <= last; mi++ {
		if err := as.ensureTable(mi); err != nil {
			return err
		}
	}

	for i := 0; i < npages; i++ {
		mi, si := PageIndex(va + Vaddr(i*PageSize))
		if e := as.tables[mi].get(si); e.Valid || e.Lock || e.OnSwap() {
			return errors.Wrapf(ErrInvalidArgument, "page %s already loaded", PageAddress(mi, si))
		}
		if mode == GetEntry {
			as.tables[mi].set(si, reservedLeaf)
			continue
		}
		if _, raced, err := as.loadPage(mi, si, status); err != nil {
			return err
		} else if raced {
			return errors.Wrapf(ErrInvalidArgument, "page %s already loaded", PageAddress(mi, si))
		}
	}

	return nil
}

// CompleteLoad releases a page pinned by PrepareLoad, giving it the final
// status. The page becomes evictable.
func (as *AddressSpace) CompleteLoad(status FrameStatus, va Vaddr) error {
	as.m.spl.Lock()
	defer as.m.spl.Unlock()

	mi, si := PageIndex(va)
	if as.destroyed || mi >= MasterEntries {
		return errors.Wrapf(ErrBadAddress, "cannot complete load at %s", va)
	}
	return as.completeLoad(status, mi, si)
}

// completeLoad must be called with spl held.
func (as *AddressSpace) completeLoad(status FrameStatus, mi, si int) error {
	e, ok := as.leaf(mi, si)
	if !ok || !e.Valid {
		return errors.Wrapf(ErrInvalidArgument, "page %s not loaded", PageAddress(mi, si))
	}
	f := &as.m.coremap.frames[e.Frame]
	if f.Status != TempFixed || f.Owner != as.handle {
		return errors.Wrapf(ErrInvalidArgument, "page %s: frame %d is %s, owned by %s",
			PageAddress(mi, si), e.Frame, f.Status, f.Owner)
	}
	f.Status = status
	f.Referenced = true
	as.m.unpinned.Broadcast()
	return nil
}

// DefineStack returns the initial stack pointer. Stack pages are
// allocated on demand.
func (as *AddressSpace) DefineStack() Vaddr {
	return UserTop
}

// Activate makes this the active address space, flushing the TLB.
func (as *AddressSpace) Activate() {
	as.m.spl.Lock()
	defer as.m.spl.Unlock()
	as.m.activate(as)
}

// Destroy releases every frame and page table of the address space and
// closes its swap file. Handles to the address space become stale.
func (as *AddressSpace) Destroy() error {
	m := as.m
	m.spl.Lock()

	if as.destroyed {
		m.spl.Unlock()
		return nil
	}
	as.destroyed = true

	for mi, t := range as.tables {
		if t == nil {
			continue
		}
		for si := 0; si < SecondaryEntries; si++ {
			e := t.get(si)
			if !e.Valid {
				continue
			}
			if m.current == as {
				m.tlb.invalidateFrame(e.Frame)
			}
			if m.coremap.frames[e.Frame].Status == TempFixed {
				m.unpinFrame(e.Frame)
			} else {
				m.free(e.Frame)
			}
		}
		m.freeKernel(t.kva)
		as.tables[mi] = nil
	}

	m.spaces.remove(as.handle)
	if m.current == as {
		m.tlb.flush()
		m.current = nil
	}
	m.stats.Store(StatsAddressSpace{Created: false})
	log.Debug("%s: destroyed", as.handle)

	m.spl.Unlock()

	return as.swap.Close()
}

// Copy creates a deep copy of the address space. Resident pages are
// copied, swapped pages are read into fresh frames of the copy.
func (as *AddressSpace) Copy() (*AddressSpace, error) {
	m := as.m
	dst, err := m.Create()
	if err != nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "copy of %s: %v", as.handle, err)
	}

	m.spl.Lock()
	err = as.copyTo(dst)
	m.spl.Unlock()

	if err != nil {
		log.Warn("copy of %s failed: %v", as.handle, err)
		dst.Destroy()
		return nil, errors.Wrapf(ErrOutOfMemory, "copy of %s: %v", as.handle, err)
	}

	log.Debug("%s: copied to %s", as.handle, dst.handle)
	return dst, nil
}

// copyTo must be called with spl held, suspends.
func (as *AddressSpace) copyTo(dst *AddressSpace) error {
	dst.heapStart, dst.heapEnd = as.heapStart, as.heapEnd

	for mi := 0; mi < MasterEntries; mi++ {
		if as.destroyed {
			return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
		}
		if as.tables[mi] == nil {
			continue
		}
		if err := dst.ensureTable(mi); err != nil {
			return err
		}
		for si := 0; si < SecondaryEntries; si++ {
			if as.destroyed {
				return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
			}
			e := as.tables[mi].get(si)
			switch {
			case e.IsZero():
			case !e.Valid && e.SwapSlot == 0:
				dst.tables[mi].set(si, LeafEntry{Dirty: e.Dirty})
			default:
				if err := as.copyPage(dst, mi, si); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// copyPage copies one resident or swapped page. Must be called with spl
// held, suspends.
func (as *AddressSpace) copyPage(dst *AddressSpace, mi, si int) error {
	m := as.m
	frame, err := m.allocate(1, TempFixed, dst.handle)
	if err != nil {
		return err
	}

	// The source page may get evicted while we are suspended.
	for {
		if as.destroyed {
			m.unpinFrame(frame)
			return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
		}
		e := as.tables[mi].get(si)
		if e.Lock {
			m.waitUnlocked()
			continue
		}
		if e.Valid {
			copy(m.frameBytes(frame), m.frameBytes(e.Frame))
			break
		}
		if !e.OnSwap() {
			m.unpinFrame(frame)
			return errors.Wrapf(ErrBadAddress, "page %s vanished during copy", PageAddress(mi, si))
		}

		e.Lock = true
		as.tables[mi].set(si, e)
		err := m.swapIn(as.swap, e.SwapSlot, frame)
		if !as.destroyed {
			e = as.tables[mi].get(si)
			e.Lock = false
			as.tables[mi].set(si, e)
		}
		m.unlocked.Broadcast()
		if err != nil {
			m.unpinFrame(frame)
			return err
		}
		break
	}

	dst.tables[mi].set(si, LeafEntry{Frame: frame, Valid: true, Dirty: true})
	m.coremap.frames[frame].Back = &LeafRef{AS: dst.handle, Master: mi, Secondary: si}
	return dst.completeLoad(Occupied, mi, si)
}
