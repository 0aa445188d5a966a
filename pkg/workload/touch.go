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

package workload

import (
	"github.com/pkg/errors"

	"github.com/intel/vmcore/pkg/vm"
)

// pattern is the word touch writes at offset off of page i.
func pattern(i, off int) int32 {
	return int32(uint32(i)*2654435761 ^ uint32(off))
}

// Touch grows the heap by pages, writes a pattern to the first and last
// word of every page, then verifies it.
func Touch(th *vm.Thread, pages int) error {
	if pages < 1 {
		return errors.Errorf("invalid page count %d", pages)
	}

	as := th.AddressSpace()
	start, err := as.Sbrk(0)
	if err != nil {
		return err
	}
	for left := pages; left > 0; {
		n := left
		if n >= vm.SbrkMaxPages {
			n = vm.SbrkMaxPages - 1
		}
		if _, err := as.Sbrk(n * vm.PageSize); err != nil {
			return errors.Wrapf(err, "failed to grow heap by %d pages", n)
		}
		left -= n
	}
	log.Debug("%s: touching %d pages from %s", as, pages, start)

	mem := &memory{th: th}
	offsets := []int{0, vm.PageSize - 4}
	for i := 0; i < pages; i++ {
		for _, off := range offsets {
			mem.store(start+vm.Vaddr(i*vm.PageSize+off), pattern(i, off))
		}
	}
	for i := 0; i < pages && mem.err == nil; i++ {
		for _, off := range offsets {
			va := start + vm.Vaddr(i*vm.PageSize+off)
			if w := mem.load(va); mem.err == nil && w != pattern(i, off) {
				return errors.Errorf("page %d: found 0x%08x at %s, expected 0x%08x",
					i, uint32(w), va, uint32(pattern(i, off)))
			}
		}
	}
	return mem.err
}
