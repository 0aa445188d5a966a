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

// FaultKind is the kind of a page fault.
type FaultKind int

const (
	// FaultRead is a load that missed the TLB.
	FaultRead FaultKind = iota
	// FaultWrite is a store that missed the TLB.
	FaultWrite
	// FaultReadOnly is a store through a TLB entry without write permission.
	FaultReadOnly
)

func (k FaultKind) String() string {
	switch k {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	}
	return fmt.Sprintf("<unknown fault kind %d>", int(k))
}

// HandleFault handles a page fault of the active address space.
func (m *Manager) HandleFault(kind FaultKind, va Vaddr) error {
	m.spl.Lock()
	defer m.spl.Unlock()

	if m.current == nil {
		return errors.Wrapf(ErrBadAddress, "%s fault at %s without an active address space", kind, va)
	}
	return m.handleFault(m.current, kind, va)
}

// handleFault must be called with spl held, may suspend.
func (m *Manager) handleFault(as *AddressSpace, kind FaultKind, va Vaddr) error {
	err := m.fault(as, kind, va)
	m.stats.Store(StatsFault{Kind: kind, Err: err})
	if err != nil {
		log.Debug("%s: %s fault at %s failed: %v", as.handle, kind, va, err)
	}
	return err
}

func (m *Manager) fault(as *AddressSpace, kind FaultKind, va Vaddr) error {
	if va == 0 {
		return errors.Wrapf(ErrBadAddress, "%s fault at NULL", kind)
	}
	page := va & PageFrame
	mi, si := PageIndex(page)
	if page >= UserTop || mi >= MasterEntries {
		return errors.Wrapf(ErrBadAddress, "%s fault at kernel address %s", kind, va)
	}

	switch kind {
	case FaultReadOnly:
		as.setDirty(mi, si)
	case FaultRead, FaultWrite:
	default:
		return errors.Wrapf(ErrInvalidFaultKind, "fault kind %d at %s", int(kind), va)
	}

	for {
		if as.destroyed {
			return errors.Wrapf(ErrBadAddress, "%s destroyed", as.handle)
		}
		e, hasTable := as.leaf(mi, si)

		switch {
		case e.Lock:
			m.waitUnlocked()
			continue

		case e.Valid:

		case e.OnSwap():
			raced, err := as.swapInPage(mi, si)
			if err != nil {
				return err
			}
			if raced {
				continue
			}

		case as.isGrowth(page, mi, si, hasTable, e):
			_, raced, err := as.loadPage(mi, si, TempFixed)
			if err != nil {
				return err
			}
			if raced {
				continue
			}
			if err := as.completeLoad(Occupied, mi, si); err != nil {
				return err
			}

		default:
			return errors.Wrapf(ErrBadAddress, "%s: invalid %s access at %s", as.handle, kind, va)
		}

		e, _ = as.leaf(mi, si)
		if !e.Valid {
			continue
		}
		m.coremap.frames[e.Frame].Referenced = true
		if m.current == as {
			slot, replaced := m.tlb.refill(page, e.Frame, e.Dirty)
			m.stats.Store(StatsTLBRefill{Slot: slot, Replaced: replaced})
		}
		return nil
	}
}

// isGrowth checks if a page with no content is a legitimate new page: in
// the stack window, reserved by a loader or within the heap. Must be called
// with spl held.
func (as *AddressSpace) isGrowth(page Vaddr, mi, si int, hasTable bool, e LeafEntry) bool {
	switch {
	case mi == MasterEntries-1 && si >= SecondaryEntries-as.m.stackPages:
		return true
	case hasTable && !e.IsZero():
		return true
	case hasTable && page >= as.heapStart && page <= as.heapEnd:
		return true
	}
	return false
}

// setDirty marks a resident page dirty and drops its stale TLB entry.
// Must be called with spl held.
func (as *AddressSpace) setDirty(mi, si int) {
	e, ok := as.leaf(mi, si)
	if !ok || !e.Valid {
		return
	}
	e.Dirty = true
	as.tables[mi].set(si, e)
	if as.m.current == as {
		as.m.tlb.invalidatePage(PageAddress(mi, si))
	}
}
