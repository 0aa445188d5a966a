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
	"strings"
)

// TLBEntry is a cached translation.
type TLBEntry struct {
	Page  Vaddr
	Frame int
	Valid bool
	// Dirty enables stores through the entry.
	Dirty bool
}

// TLB is a fully associative translation cache.
type TLB struct {
	entries []TLBEntry
}

func newTLB(size int) *TLB {
	return &TLB{entries: make([]TLBEntry, size)}
}

// lookup returns the entry translating va.
func (t *TLB) lookup(va Vaddr) (TLBEntry, bool) {
	page := va & PageFrame
	for _, e := range t.entries {
		if e.Valid && e.Page == page {
			return e, true
		}
	}
	return TLBEntry{}, false
}

// refill installs a translation in the first invalid slot, or in slot 0
// if every slot is in use. It returns the slot used and whether a valid
// translation got replaced.
func (t *TLB) refill(va Vaddr, frame int, dirty bool) (int, bool) {
	t.invalidatePage(va)
	slot, replaced := 0, true
	for i, e := range t.entries {
		if !e.Valid {
			slot, replaced = i, false
			break
		}
	}
	t.entries[slot] = TLBEntry{
		Page:  va & PageFrame,
		Frame: frame,
		Valid: true,
		Dirty: dirty,
	}
	return slot, replaced
}

// invalidateFrame drops every translation to frame.
func (t *TLB) invalidateFrame(frame int) {
	for i, e := range t.entries {
		if e.Valid && e.Frame == frame {
			t.entries[i] = TLBEntry{}
		}
	}
}

// invalidatePage drops the translation of the page containing va.
func (t *TLB) invalidatePage(va Vaddr) {
	page := va & PageFrame
	for i, e := range t.entries {
		if e.Valid && e.Page == page {
			t.entries[i] = TLBEntry{}
		}
	}
}

// flush drops all translations.
func (t *TLB) flush() {
	for i := range t.entries {
		t.entries[i] = TLBEntry{}
	}
}

// Entries returns a copy of the TLB.
func (t *TLB) Entries() []TLBEntry {
	entries := make([]TLBEntry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

func (t *TLB) String() string {
	lines := []string{"slot page       frame flags"}
	for i, e := range t.entries {
		if !e.Valid {
			continue
		}
		flags := "V"
		if e.Dirty {
			flags += "D"
		}
		lines = append(lines, fmt.Sprintf("%4d %s %5d %s", i, e.Page, e.Frame, flags))
	}
	return strings.Join(lines, "\n")
}
