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
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// SwapFile is the backing store of one address space: a flat sequence of
// page sized slots, appended to and never compacted.
type SwapFile struct {
	// Mutex serializes I/O and Close.
	sync.Mutex
	name string
	path string
	file *os.File
	sync bool
	// slots is the number of allocated slots, guarded by the manager spl.
	slots int
}

// createSwapFile creates or truncates a swap file.
func createSwapFile(dir, name string, syncWrites bool) (*SwapFile, error) {
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Wrapf(ErrSwapIO, "failed to create swap file %s: %v", path, err)
	}
	return &SwapFile{
		name: name,
		path: path,
		file: file,
		sync: syncWrites,
	}, nil
}

// Name returns the name of the swap file.
func (f *SwapFile) Name() string {
	return f.name
}

// allocSlot appends a new slot to the file and returns its 1-based number.
// Must be called with spl held.
func (f *SwapFile) allocSlot() (int, error) {
	if f.slots >= MaxSwapSlots {
		return 0, errors.Wrapf(ErrOutOfMemory, "swap file %s full (%d slots)", f.name, f.slots)
	}
	f.slots++
	return f.slots, nil
}

func slotOffset(slot int) int64 {
	return int64(slot-1) * PageSize
}

// WritePage writes a page to the given slot.
func (f *SwapFile) WritePage(slot int, page []byte) error {
	f.Lock()
	defer f.Unlock()

	if err := f.check(slot, page); err != nil {
		return err
	}
	if err := writePage(f.file, slotOffset(slot), page, f.sync); err != nil {
		return errors.Wrapf(ErrSwapIO, "%s: failed to write slot %d: %v", f.name, slot, err)
	}
	return nil
}

// ReadPage reads a page from the given slot.
func (f *SwapFile) ReadPage(slot int, page []byte) error {
	f.Lock()
	defer f.Unlock()

	if err := f.check(slot, page); err != nil {
		return err
	}
	if err := readPage(f.file, slotOffset(slot), page); err != nil {
		return errors.Wrapf(ErrSwapIO, "%s: failed to read slot %d: %v", f.name, slot, err)
	}
	return nil
}

func (f *SwapFile) check(slot int, page []byte) error {
	switch {
	case f.file == nil:
		return errors.Wrapf(ErrSwapIO, "%s: swap file closed", f.name)
	case slot < 1 || slot > MaxSwapSlots:
		return errors.Wrapf(ErrSwapIO, "%s: invalid slot %d", f.name, slot)
	case len(page) != PageSize:
		return errors.Wrapf(ErrSwapIO, "%s: invalid page size %d", f.name, len(page))
	}
	return nil
}

// Close closes the swap file, waiting for any I/O in flight.
func (f *SwapFile) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return errors.Wrapf(ErrSwapIO, "%s: failed to close: %v", f.name, err)
	}
	return nil
}

func (f *SwapFile) String() string {
	return fmt.Sprintf("%s(%s)", f.name, f.path)
}

// throttle delays the caller according to the modelled swap bandwidth.
// Must be called without spl.
func (m *Manager) throttle() {
	if m.limiter == nil {
		return
	}
	r := m.limiter.Reserve()
	if !r.OK() {
		return
	}
	m.sleep(r.Delay())
}

// swapOut writes a page snapshot with spl dropped.
func (m *Manager) swapOut(f *SwapFile, slot int, page []byte) error {
	var err error
	m.suspend(func() {
		m.throttle()
		err = f.WritePage(slot, page)
	})
	if err == nil {
		m.stats.Store(StatsSwap{Write: true})
	}
	return err
}

// swapIn reads a page into frame with spl dropped.
func (m *Manager) swapIn(f *SwapFile, slot, frame int) error {
	page := make([]byte, PageSize)
	var err error
	m.suspend(func() {
		m.throttle()
		err = f.ReadPage(slot, page)
	})
	if err != nil {
		return err
	}
	copy(m.frameBytes(frame), page)
	m.stats.Store(StatsSwap{Write: false})
	return nil
}
