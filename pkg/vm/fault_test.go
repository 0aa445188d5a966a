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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleFault(t *testing.T) {
	const region = Vaddr(0x10000000)

	m := newTestManager(t, 16)
	require.ErrorIs(t, m.HandleFault(FaultRead, stackPage(0)), ErrBadAddress,
		"fault without an active address space")

	as := newTestSpace(t, m)
	as.Activate()
	require.NoError(t, as.PrepareLoad(region, 2*PageSize, ProtRead|ProtWrite, TempFixed, GetEntry))

	tcases := []struct {
		name string
		kind FaultKind
		va   Vaddr
		err  error
	}{
		{name: "NULL", kind: FaultRead, va: 0, err: ErrBadAddress},
		{name: "kernel address", kind: FaultWrite, va: KernelBase + 0x1000, err: ErrBadAddress},
		{name: "top of memory", kind: FaultRead, va: 0xfffffffc, err: ErrBadAddress},
		{name: "invalid kind", kind: FaultKind(7), va: stackPage(0), err: ErrInvalidFaultKind},
		{name: "no page table", kind: FaultRead, va: 0x20000000, err: ErrBadAddress},
		{name: "beyond loaded region", kind: FaultRead, va: region + 2*PageSize, err: ErrBadAddress},
		{name: "stack growth", kind: FaultWrite, va: stackPage(3) + 0x10},
		{name: "below stack window", kind: FaultRead, va: stackPage(64), err: ErrBadAddress},
		{name: "loaded region", kind: FaultRead, va: region + PageSize + 0xffc},
		{name: "read-only", kind: FaultReadOnly, va: region + PageSize},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.HandleFault(tc.kind, tc.va)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			e, ok := as.Lookup(tc.va)
			require.True(t, ok)
			require.True(t, e.Valid)
			require.True(t, e.Dirty)
			f := m.Frames()[e.Frame]
			require.Equal(t, Occupied, f.Status)
			require.Equal(t, as.Handle(), f.Owner)
			require.Equal(t, tc.va&PageFrame, f.Back.Vaddr())
			tlb, hit := m.tlb.lookup(tc.va)
			require.True(t, hit)
			require.Equal(t, e.Frame, tlb.Frame)
		})
	}

	c := m.Stats().Counters()
	require.Equal(t, uint64(6), c.FaultErrors[ErrBadAddress.Error()])
	require.Equal(t, uint64(1), c.FaultErrors[ErrInvalidFaultKind.Error()])
}

func TestThreadAccessAcrossPages(t *testing.T) {
	m := newTestManager(t, 16)
	as := newTestSpace(t, m)

	data := make([]byte, 3*PageSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	va := stackPage(5) + 0x123
	require.NoError(t, as.CopyOut(va, data))

	buf := make([]byte, len(data))
	require.NoError(t, as.CopyIn(va, buf))
	require.Equal(t, data, buf)

	th := m.NewThread(as)
	require.ErrorIs(t, th.StoreWord(stackPage(0)+PageSize-2, 1), ErrInvalidArgument)
	require.ErrorIs(t, th.Store(UserTop-2, []byte{1, 2, 3}), ErrBadAddress)
	_, err := th.LoadWord(0x1000)
	require.ErrorIs(t, err, ErrBadAddress)
}
