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

// findFrame locates the valid leaf mapping frame, trying the back-pointer
// first. Must be called with spl held.
func (as *AddressSpace) findFrame(frame int, back *LeafRef) (int, int, bool) {
	if back != nil && back.AS == as.handle {
		if e, ok := as.leaf(back.Master, back.Secondary); ok && e.Valid && e.Frame == frame {
			return back.Master, back.Secondary, true
		}
	}
	for mi, t := range as.tables {
		if t == nil {
			continue
		}
		for si := 0; si < SecondaryEntries; si++ {
			if e := t.get(si); e.Valid && e.Frame == frame {
				return mi, si, true
			}
		}
	}
	return 0, 0, false
}

// evict reclaims a frame, unmapping it from its owner and writing its
// content to the owner's swap if necessary, then hands it over to the new
// owner with the given status. Must be called with spl held, may suspend.
func (m *Manager) evict(victim int, status FrameStatus, owner Handle) (int, error) {
	f := &m.coremap.frames[victim]
	prevStatus, prevOwner, prevBack := f.Status, f.Owner, f.Back

	f.Status = TempFixed
	f.Back = nil

	clean := true
	if as := m.spaces.resolve(prevOwner); as != nil {
		if mi, si, ok := as.findFrame(victim, prevBack); ok {
			e := as.tables[mi].get(si)
			e.Valid = false
			as.tables[mi].set(si, e)
			if m.current == as {
				m.tlb.invalidateFrame(victim)
			}

			if e.Dirty || e.SwapSlot == 0 {
				clean = false
				if err := m.writeBack(as, mi, si, victim); err != nil {
					if m.spaces.resolve(prevOwner) != as {
						log.Debug("frame %d: ignoring write-back error of destroyed %s: %v",
							victim, prevOwner, err)
					} else {
						log.Error("frame %d: eviction of %s failed: %v",
							victim, LeafRef{AS: as.handle, Master: mi, Secondary: si}, err)
						e = as.tables[mi].get(si)
						e.Valid = true
						as.tables[mi].set(si, e)
						f.Status = prevStatus
						f.Owner = prevOwner
						f.Back = &LeafRef{AS: as.handle, Master: mi, Secondary: si}
						m.unpinned.Broadcast()
						return -1, err
					}
				}
			}
		}
	}

	f.Owner = owner
	f.Back = nil
	f.Status = status
	f.RunLength = 1
	f.Referenced = true
	if status != TempFixed {
		m.unpinned.Broadcast()
	}

	m.stats.Store(StatsEviction{Frame: victim, Clean: clean})
	return victim, nil
}

// writeBack writes the page of an unmapped leaf to swap, holding the leaf
// lock while the write is in flight. Must be called with spl held, suspends.
func (m *Manager) writeBack(as *AddressSpace, mi, si, frame int) error {
	t := as.tables[mi]
	e := t.get(si)
	ref := LeafRef{AS: as.handle, Master: mi, Secondary: si}

	if e.Lock {
		log.Panic("%s: locking already locked leaf %s", ref, e)
	}
	if e.SwapSlot == 0 {
		slot, err := as.swap.allocSlot()
		if err != nil {
			return err
		}
		e.SwapSlot = slot
	}
	e.Lock = true
	t.set(si, e)

	page := make([]byte, PageSize)
	copy(page, m.frameBytes(frame))

	log.Debug("%s: writing frame %d to %s slot %d", ref, frame, as.swap.Name(), e.SwapSlot)
	err := m.swapOut(as.swap, e.SwapSlot, page)

	if owner := m.spaces.resolve(ref.AS); owner != nil {
		e = owner.tables[mi].get(si)
		e.Lock = false
		owner.tables[mi].set(si, e)
	}
	m.unlocked.Broadcast()

	return err
}
