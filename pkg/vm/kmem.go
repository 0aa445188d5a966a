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

// Kernel pages are frames mapped directly into kernel virtual space.

// kernelAddress returns the kernel virtual address of a frame.
func kernelAddress(frame int) Vaddr {
	return KernelBase + Vaddr(frameAddress(frame))
}

// kernelFrame returns the frame mapped at a kernel virtual address, or -1.
func (m *Manager) kernelFrame(kva Vaddr) int {
	if kva < KernelBase {
		return -1
	}
	return frameIndex(Paddr(kva-KernelBase), m.coremap.Len())
}

// frameBytes returns the memory of a frame.
func (m *Manager) frameBytes(frame int) []byte {
	return m.mem[frame*PageSize : (frame+1)*PageSize]
}

func (m *Manager) zeroFrame(frame int) {
	page := m.frameBytes(frame)
	for i := range page {
		page[i] = 0
	}
}

// allocKernel allocates n kernel pages. Must be called with spl held, may suspend.
func (m *Manager) allocKernel(n int) (Vaddr, error) {
	frame, err := m.allocate(n, KernelFixed, Handle{})
	if err != nil {
		return 0, err
	}
	return kernelAddress(frame), nil
}

// freeKernel frees kernel pages. Must be called with spl held.
func (m *Manager) freeKernel(kva Vaddr) {
	frame := m.kernelFrame(kva)
	if frame < 0 {
		log.Panic("freeing invalid kernel address %s", kva)
	}
	m.free(frame)
}

// AllocKernelPages allocates n contiguous kernel pages. It returns 0 on failure.
func (m *Manager) AllocKernelPages(n int) Vaddr {
	m.spl.Lock()
	defer m.spl.Unlock()

	kva, err := m.allocKernel(n)
	if err != nil {
		log.Debug("failed to allocate %d kernel pages: %v", n, err)
		return 0
	}
	return kva
}

// FreeKernelPages frees kernel pages allocated by AllocKernelPages.
func (m *Manager) FreeKernelPages(kva Vaddr) {
	m.spl.Lock()
	defer m.spl.Unlock()

	m.freeKernel(kva)
}

// KernelMemory returns the memory of n kernel pages starting at kva.
func (m *Manager) KernelMemory(kva Vaddr, n int) []byte {
	frame := m.kernelFrame(kva)
	if frame < 0 || frame+n > m.coremap.Len() {
		return nil
	}
	return m.mem[frame*PageSize : (frame+n)*PageSize]
}

// newSecondaryTable allocates an empty secondary table. Must be called
// with spl held, may suspend.
func (m *Manager) newSecondaryTable() (*SecondaryTable, error) {
	kva, err := m.allocKernel(1)
	if err != nil {
		return nil, err
	}
	return &SecondaryTable{
		kva:   kva,
		words: m.frameBytes(m.kernelFrame(kva)),
	}, nil
}
