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

// evictable returns true if frame i can be evicted as a frame of the given status.
func (c *Coremap) evictable(i int, status FrameStatus) bool {
	f := &c.frames[i]
	return f.Status == status && f.RunLength == 1 && f.Back != nil
}

// selectVictim picks a frame to evict using the clock algorithm. The first
// pass considers Occupied frames, the second one Fixed frames. Referenced
// frames get a second chance. If every frame is pinned it waits for a pinned
// frame to be released and starts over. Must be called with spl held, may
// suspend.
func (m *Manager) selectVictim() int {
	n := m.coremap.Len()
	for {
		for pass, status := range []FrameStatus{Occupied, Fixed} {
			for step := 0; step < 2*n; step++ {
				m.coremap.hand = (m.coremap.hand + 1) % n
				i := m.coremap.hand
				f := &m.coremap.frames[i]
				if f.Referenced {
					f.Referenced = false
					m.tlb.invalidateFrame(i)
					continue
				}
				if m.coremap.evictable(i, status) {
					m.stats.Store(StatsVictim{Pass: pass, Frame: i})
					log.Debug("victim: frame %d (%s, owner %s)", i, f.Status, f.Owner)
					return i
				}
			}
		}

		pinned := -1
		for i := 0; i < n; i++ {
			if m.coremap.frames[i].Status == TempFixed {
				pinned = i
				break
			}
		}
		if pinned < 0 {
			log.ErrorBlock("  ", "%s", m.dumpCoremap())
			log.Panic("no page can be evicted")
		}

		m.waitLog.Warn("all frames pinned, waiting for a page load to complete")
		m.stats.Store(StatsVictimWait{})
		for m.coremap.frames[pinned].Status == TempFixed {
			m.wait(m.unpinned)
		}
	}
}
