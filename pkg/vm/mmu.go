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

	"github.com/pkg/errors"
)

// Thread is an execution context running in an address space. Its memory
// accesses are translated by the TLB, faulting in pages as necessary.
type Thread struct {
	m  *Manager
	as *AddressSpace
}

// NewThread creates a thread running in as.
func (m *Manager) NewThread(as *AddressSpace) *Thread {
	return &Thread{m: m, as: as}
}

// AddressSpace returns the address space of the thread.
func (t *Thread) AddressSpace() *AddressSpace {
	return t.as
}

// Load reads len(buf) bytes at va.
func (t *Thread) Load(va Vaddr, buf []byte) error {
	return t.access(va, buf, false)
}

// Store writes data at va.
func (t *Thread) Store(va Vaddr, data []byte) error {
	return t.access(va, data, true)
}

// LoadWord reads the little endian 32-bit word at va.
func (t *Thread) LoadWord(va Vaddr) (uint32, error) {
	if err := checkWord(va); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := t.access(va, buf[:], false); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// StoreWord writes a little endian 32-bit word at va.
func (t *Thread) StoreWord(va Vaddr, w uint32) error {
	if err := checkWord(va); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	return t.access(va, buf[:], true)
}

func checkWord(va Vaddr) error {
	if va&^PageFrame > PageSize-4 {
		return errors.Wrapf(ErrInvalidArgument, "word at %s crosses a page boundary", va)
	}
	return nil
}

// access copies between buf and user memory a page at a time, handling
// the faults raised by the TLB.
func (t *Thread) access(va Vaddr, buf []byte, write bool) error {
	m := t.m
	m.spl.Lock()
	defer m.spl.Unlock()

	if uint64(va)+uint64(len(buf)) > uint64(UserTop) {
		return errors.Wrapf(ErrBadAddress, "access of %d bytes at %s", len(buf), va)
	}

	for done := 0; done < len(buf); {
		if t.as.destroyed {
			return errors.Wrapf(ErrBadAddress, "%s destroyed", t.as.handle)
		}
		m.enter(t.as)

		cur := va + Vaddr(done)
		off := int(cur &^ PageFrame)
		n := PageSize - off
		if n > len(buf)-done {
			n = len(buf) - done
		}

		e, hit := m.tlb.lookup(cur)
		var kind FaultKind
		switch {
		case !hit && write:
			kind = FaultWrite
		case !hit:
			kind = FaultRead
		case write && !e.Dirty:
			kind = FaultReadOnly
		default:
			mem := m.frameBytes(e.Frame)[off : off+n]
			if write {
				copy(mem, buf[done:done+n])
			} else {
				copy(buf[done:done+n], mem)
			}
			done += n
			continue
		}

		if err := m.handleFault(t.as, kind, cur); err != nil {
			return err
		}
	}

	return nil
}

// CopyOut copies data from the kernel to user memory at va.
func (as *AddressSpace) CopyOut(va Vaddr, data []byte) error {
	return as.m.NewThread(as).Store(va, data)
}

// CopyIn copies user memory at va into buf.
func (as *AddressSpace) CopyIn(va Vaddr, buf []byte) error {
	return as.m.NewThread(as).Load(va, buf)
}
