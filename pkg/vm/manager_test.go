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

	"github.com/intel/vmcore/pkg/config"
)

// stackPage returns the address of the nth page below the top of the stack.
func stackPage(n int) Vaddr {
	return UserTop - Vaddr((n+1)*PageSize)
}

func newTestManager(t *testing.T, frames int) *Manager {
	cfg := config.Default()
	cfg.Machine.Frames = frames
	cfg.Swap.Directory = t.TempDir()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})
	return m
}

func newTestSpace(t *testing.T, m *Manager) *AddressSpace {
	as, err := m.Create()
	require.NoError(t, err)
	return as
}

// checkCoremap verifies the run length encoding of the coremap.
func checkCoremap(t *testing.T, m *Manager) {
	frames := m.Frames()
	for i := 0; i < len(frames); {
		f := frames[i]
		if f.Status == Available {
			require.Zero(t, f.RunLength, "available frame %d", i)
			i++
			continue
		}
		require.True(t, f.RunLength >= 1 && i+f.RunLength <= len(frames),
			"frame %d: run length %d", i, f.RunLength)
		for k := 1; k < f.RunLength; k++ {
			g := frames[i+k]
			require.Equal(t, f.Status, g.Status, "frame %d", i+k)
			require.Equal(t, f.RunLength-k, g.RunLength, "frame %d", i+k)
		}
		i += f.RunLength
	}
}

func TestNewManager(t *testing.T) {
	tcases := []struct {
		name    string
		frames  int
		tlb     int
		invalid bool
	}{
		{name: "default sized machine", frames: 128, tlb: 64},
		{name: "tiny machine", frames: 1, tlb: 1},
		{name: "too many frames", frames: MaxFrames + 1, tlb: 64, invalid: true},
		{name: "no frames", frames: 0, tlb: 64, invalid: true},
		{name: "no TLB", frames: 16, tlb: 0, invalid: true},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Machine.Frames = tc.frames
			cfg.Machine.TLBEntries = tc.tlb
			cfg.Swap.Directory = t.TempDir()
			m, err := NewManager(cfg)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer m.Close()
			require.Equal(t, tc.frames, len(m.Frames()))
			require.Equal(t, tc.tlb, len(m.TLB()))
			require.Nil(t, m.Current())
			require.Equal(t, tc.frames, m.FrameCounts()[Available])
		})
	}
}

func TestSwapDirectoryOwnership(t *testing.T) {
	cfg := config.Default()
	cfg.Machine.Frames = 4
	cfg.Swap.Directory = t.TempDir()

	m, err := NewManager(cfg)
	require.NoError(t, err)

	_, err = NewManager(cfg)
	require.ErrorIs(t, err, ErrSwapIO)

	require.NoError(t, m.Close())
	m, err = NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Close())
}

func TestCloseDestroysSpaces(t *testing.T) {
	m := newTestManager(t, 16)
	for i := 0; i < 3; i++ {
		as := newTestSpace(t, m)
		require.NoError(t, m.NewThread(as).StoreWord(stackPage(0), uint32(i)))
	}
	require.Len(t, m.Spaces(), 3)

	require.NoError(t, m.Close())
	require.Empty(t, m.Spaces())
	require.Equal(t, 16, m.FrameCounts()[Available])
	c := m.Stats().Counters()
	require.Equal(t, uint64(3), c.SpacesCreated)
	require.Equal(t, uint64(3), c.SpacesDestroyed)
}
