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

// DumpCoremap returns the state of every frame followed by per status totals.
func (m *Manager) DumpCoremap() string {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.dumpCoremap()
}

// dumpCoremap must be called with spl held.
func (m *Manager) dumpCoremap() string {
	lines := []string{"frame paddr      status     run ref owner      leaf"}
	for i := range m.coremap.frames {
		f := &m.coremap.frames[i]
		if f.Status == Available {
			continue
		}
		ref := "-"
		if f.Referenced {
			ref = "R"
		}
		back := "-"
		if f.Back != nil {
			back = f.Back.String()
		}
		lines = append(lines, fmt.Sprintf("%5d %s %-10s %3d %3s %-10s %s",
			i, frameAddress(i), f.Status, f.RunLength, ref, f.Owner, back))
	}

	counts := m.coremap.count()
	totals := []string{}
	for _, status := range []FrameStatus{Available, Occupied, Fixed, TempFixed, KernelFixed} {
		totals = append(totals, fmt.Sprintf("%s:%d", status, counts[status]))
	}
	lines = append(lines, fmt.Sprintf("total %d frames, hand at %d: %s",
		m.coremap.Len(), m.coremap.hand, strings.Join(totals, " ")))

	return strings.Join(lines, "\n")
}

// FrameCounts returns the number of frames per status.
func (m *Manager) FrameCounts() map[FrameStatus]int {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.coremap.count()
}
