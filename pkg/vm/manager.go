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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/intel/vmcore/pkg/config"
	logger "github.com/intel/vmcore/pkg/log"
	"github.com/intel/vmcore/pkg/pidfile"
)

// ownerFile is the PID file claiming a swap directory for one machine.
const ownerFile = "vmcore.pid"

var log = logger.Get("vm")

// Manager is the virtual memory manager of one simulated machine.
type Manager struct {
	// spl guards all coremap, page table and TLB state.
	spl sync.Mutex
	// unpinned is broadcast when a frame leaves TempFixed.
	unpinned *sync.Cond
	// unlocked is broadcast when a leaf lock is released.
	unlocked *sync.Cond

	mem     []byte
	coremap *Coremap
	tlb     *TLB
	current *AddressSpace
	spaces  arena

	swapDir    string
	swapOwner  *pidfile.PidFile
	swapSeq    int
	syncSwap   bool
	limiter    *rate.Limiter
	stackPages int

	stats   *Stats
	waitLog logger.Logger
	sleep   func(time.Duration)
}

// NewManager creates a manager for the machine described by cfg.
func NewManager(cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Swap.Directory, 0700); err != nil {
		return nil, errors.Wrapf(ErrSwapIO, "failed to create swap directory %s: %v",
			cfg.Swap.Directory, err)
	}
	owner := pidfile.New(filepath.Join(cfg.Swap.Directory, ownerFile))
	if err := owner.Acquire(); err != nil {
		return nil, errors.Wrapf(ErrSwapIO, "swap directory %s not available: %v",
			cfg.Swap.Directory, err)
	}

	m := &Manager{
		mem:        make([]byte, cfg.Machine.Frames*PageSize),
		coremap:    newCoremap(cfg.Machine.Frames),
		tlb:        newTLB(cfg.Machine.TLBEntries),
		swapDir:    cfg.Swap.Directory,
		swapOwner:  owner,
		syncSwap:   cfg.Swap.SyncWrites,
		stackPages: cfg.Machine.StackPages,
		stats:      newStats(),
		sleep:      time.Sleep,
	}
	m.unpinned = sync.NewCond(&m.spl)
	m.unlocked = sync.NewCond(&m.spl)

	if cfg.Swap.Bandwidth > 0 {
		burst := cfg.Swap.Burst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.Swap.Bandwidth), burst)
	}

	interval := time.Duration(cfg.Swap.WaitWarnInterval)
	if interval <= 0 {
		interval = time.Second
	}
	m.waitLog = logger.RateLimit(log, logger.Interval(interval))

	log.Info("machine: %d frames (%d kB), %d TLB entries, swap in %s",
		cfg.Machine.Frames, cfg.Machine.Frames*PageSize/1024, cfg.Machine.TLBEntries, m.swapDir)

	return m, nil
}

// Close destroys every remaining address space and releases the swap
// directory.
func (m *Manager) Close() error {
	m.spl.Lock()
	spaces := m.spaces.live()
	m.spl.Unlock()

	var errs *multierror.Error
	for _, as := range spaces {
		if err := as.Destroy(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := m.swapOwner.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Stats returns the statistics of the manager.
func (m *Manager) Stats() *Stats {
	return m.stats
}

// TLB returns a copy of the TLB entries.
func (m *Manager) TLB() []TLBEntry {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.tlb.Entries()
}

// Current returns the active address space.
func (m *Manager) Current() *AddressSpace {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.current
}

// Spaces returns the live address spaces.
func (m *Manager) Spaces() []*AddressSpace {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.spaces.live()
}

// Lookup returns the live address space of a handle.
func (m *Manager) Lookup(h Handle) *AddressSpace {
	m.spl.Lock()
	defer m.spl.Unlock()
	return m.spaces.resolve(h)
}

// activate switches to an address space. Must be called with spl held.
func (m *Manager) activate(as *AddressSpace) {
	m.tlb.flush()
	m.current = as
	m.stats.Store(StatsContextSwitch{})
}

// enter makes as the active address space unless it already is.
// Must be called with spl held.
func (m *Manager) enter(as *AddressSpace) {
	if m.current != as {
		m.activate(as)
	}
}

// suspend runs fn with spl dropped, then resumes the suspended context.
func (m *Manager) suspend(fn func()) {
	cur := m.current
	m.spl.Unlock()
	fn()
	m.spl.Lock()
	m.resume(cur)
}

// wait waits on c, then resumes the suspended context.
func (m *Manager) wait(c *sync.Cond) {
	cur := m.current
	c.Wait()
	m.resume(cur)
}

// waitUnlocked waits for swap I/O holding a leaf lock to finish.
// Must be called with spl held, suspends.
func (m *Manager) waitUnlocked() {
	m.stats.Store(StatsLockWait{})
	m.wait(m.unlocked)
}

// resume re-activates the address space a context was running in if
// another one got activated while it was suspended.
func (m *Manager) resume(as *AddressSpace) {
	if as != nil && m.current != as && !as.destroyed {
		m.activate(as)
	}
}

// unpinFrame releases a single frame pinned by the caller.
// Must be called with spl held.
func (m *Manager) unpinFrame(frame int) {
	m.coremap.unpin(frame)
	m.unpinned.Broadcast()
}
