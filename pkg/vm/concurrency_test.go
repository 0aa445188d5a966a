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
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// swapGate holds the first swap transfers of a manager in flight until
// it is opened.
type swapGate struct {
	sync.Mutex
	hold    int
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newSwapGate(t *testing.T, m *Manager, hold int) *swapGate {
	g := &swapGate{
		hold:    hold,
		started: make(chan struct{}, hold),
		release: make(chan struct{}),
	}
	m.limiter = rate.NewLimiter(rate.Inf, 1)
	m.sleep = func(time.Duration) {
		g.Lock()
		held := g.hold > 0
		if held {
			g.hold--
		}
		g.Unlock()
		if held {
			g.started <- struct{}{}
			<-g.release
		}
	}
	t.Cleanup(g.open)
	return g
}

// waitStarted waits for n held transfers to get in flight.
func (g *swapGate) waitStarted(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		select {
		case <-g.started:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "swap transfer not started", "%d of %d in flight", i, n)
		}
	}
}

func (g *swapGate) open() {
	g.once.Do(func() { close(g.release) })
}

func waitLockWaits(t *testing.T, m *Manager, n uint64) {
	require.Eventually(t, func() bool {
		return m.Stats().Counters().LockWaits >= n
	}, 5*time.Second, time.Millisecond, "waiting for %d lock waits", n)
}

type loadResult struct {
	w   uint32
	err error
}

func loadAsync(th *Thread, va Vaddr) <-chan loadResult {
	ch := make(chan loadResult, 1)
	go func() {
		w, err := th.LoadWord(va)
		ch <- loadResult{w: w, err: err}
	}()
	return ch
}

func checkUnlocked(t *testing.T, as *AddressSpace, first, pages int) {
	for i := first; i < first+pages; i++ {
		e, _ := as.Lookup(stackPage(i))
		require.False(t, e.Lock, "page #%d: %s", i, e)
	}
}

func TestFaultWaitsForWriteBack(t *testing.T) {
	m := newTestManager(t, 4)
	as := newTestSpace(t, m)
	th := m.NewThread(as)
	for i := 0; i < 3; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(0xa000+i)))
	}
	require.Zero(t, m.FrameCounts()[Available])

	gate := newSwapGate(t, m, 1)
	stored := make(chan error, 1)
	go func() {
		stored <- m.NewThread(as).StoreWord(stackPage(3), 0xa003)
	}()
	gate.waitStarted(t, 1)

	locked := -1
	for i := 0; i < 3; i++ {
		if e, _ := as.Lookup(stackPage(i)); e.Lock {
			require.False(t, e.Valid)
			locked = i
		}
	}
	require.NotEqual(t, -1, locked, "no page under write-back")

	loaded := loadAsync(m.NewThread(as), stackPage(locked))
	waitLockWaits(t, m, 1)
	gate.open()

	require.NoError(t, <-stored)
	r := <-loaded
	require.NoError(t, r.err)
	require.Equal(t, uint32(0xa000+locked), r.w)

	for i := 0; i < 4; i++ {
		w, err := th.LoadWord(stackPage(i))
		require.NoError(t, err)
		require.Equal(t, uint32(0xa000+i), w, "page #%d", i)
	}
	checkUnlocked(t, as, 0, 4)
	checkCoremap(t, m)
}

func TestConcurrentSwapInOfSamePage(t *testing.T) {
	m := newTestManager(t, 4)
	as := newTestSpace(t, m)
	th := m.NewThread(as)
	for i := 0; i < 4; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(0xb000+i)))
	}

	swapped := -1
	for i := 0; i < 4; i++ {
		if e, _ := as.Lookup(stackPage(i)); e.OnSwap() {
			swapped = i
		}
	}
	require.NotEqual(t, -1, swapped, "no page got swapped out")
	reads := m.Stats().Counters().SwapReads

	// both faults evict a dirty page before either can claim the leaf
	gate := newSwapGate(t, m, 2)
	first := loadAsync(m.NewThread(as), stackPage(swapped))
	second := loadAsync(m.NewThread(as), stackPage(swapped))
	gate.waitStarted(t, 2)
	gate.open()

	for _, ch := range []<-chan loadResult{first, second} {
		r := <-ch
		require.NoError(t, r.err)
		require.Equal(t, uint32(0xb000+swapped), r.w)
	}
	require.Equal(t, reads+1, m.Stats().Counters().SwapReads, "page read from swap once")

	e, _ := as.Lookup(stackPage(swapped))
	require.True(t, e.Valid)
	require.Zero(t, m.FrameCounts()[TempFixed])
	checkUnlocked(t, as, 0, 4)
	checkCoremap(t, m)
}

func TestCopyDuringEviction(t *testing.T) {
	const frames = 8
	const pages = frames - 1

	m := newTestManager(t, frames)
	parent := newTestSpace(t, m)
	th := m.NewThread(parent)
	for i := 0; i < pages; i++ {
		require.NoError(t, th.StoreWord(stackPage(i), uint32(0xc000+i)))
	}

	// Only the parent has evictable pages, so the other address space
	// starts by writing one of them back.
	other := newTestSpace(t, m)
	gate := newSwapGate(t, m, 1)
	stored := make(chan error, 1)
	go func() {
		stored <- m.NewThread(other).StoreWord(stackPage(0), 0xd000)
	}()
	gate.waitStarted(t, 1)

	type copyResult struct {
		as  *AddressSpace
		err error
	}
	copied := make(chan copyResult, 1)
	go func() {
		child, err := parent.Copy()
		copied <- copyResult{as: child, err: err}
	}()
	waitLockWaits(t, m, 1)
	gate.open()

	require.NoError(t, <-stored)
	r := <-copied
	require.NoError(t, r.err)
	child := r.as

	cth := m.NewThread(child)
	for i := 0; i < pages; i++ {
		w, err := cth.LoadWord(stackPage(i))
		require.NoError(t, err)
		require.Equal(t, uint32(0xc000+i), w, "child page #%d", i)
	}
	require.NoError(t, cth.StoreWord(stackPage(0), 0xffff))
	for i := 0; i < pages; i++ {
		w, err := th.LoadWord(stackPage(i))
		require.NoError(t, err)
		require.Equal(t, uint32(0xc000+i), w, "parent page #%d", i)
	}
	w, err := m.NewThread(other).LoadWord(stackPage(0))
	require.NoError(t, err)
	require.Equal(t, uint32(0xd000), w)

	checkUnlocked(t, parent, 0, pages)
	checkUnlocked(t, child, 0, pages)
	checkCoremap(t, m)
}

func TestSbrkShrinkWaitsForWriteBack(t *testing.T) {
	const pages = 4

	m := newTestManager(t, 4)
	as := newTestSpace(t, m)
	th := m.NewThread(as)
	heap, err := as.Sbrk(pages * PageSize)
	require.NoError(t, err)
	for i := 0; i < pages-1; i++ {
		require.NoError(t, th.StoreWord(heap+Vaddr(i*PageSize), uint32(0xe000+i)))
	}
	require.Zero(t, m.FrameCounts()[Available])

	gate := newSwapGate(t, m, 1)
	stored := make(chan error, 1)
	go func() {
		stored <- m.NewThread(as).StoreWord(heap+Vaddr((pages-1)*PageSize), 0xe003)
	}()
	gate.waitStarted(t, 1)

	shrunk := make(chan error, 1)
	go func() {
		_, err := as.Sbrk(-pages * PageSize)
		shrunk <- err
	}()
	waitLockWaits(t, m, 1)
	gate.open()

	require.NoError(t, <-shrunk)
	if err := <-stored; err != nil {
		require.ErrorIs(t, err, ErrBadAddress)
	}

	start, end := as.Heap()
	require.Equal(t, heap, start)
	require.Equal(t, heap, end)
	for i := 0; i < pages; i++ {
		e, _ := as.Lookup(heap + Vaddr(i*PageSize))
		require.True(t, e.IsZero(), "page #%d: %s", i, e)
	}
	counts := m.FrameCounts()
	require.Zero(t, counts[Occupied])
	require.Zero(t, counts[TempFixed])

	// the regrown heap starts out zeroed
	_, err = as.Sbrk(pages * PageSize)
	require.NoError(t, err)
	for i := 0; i < pages; i++ {
		w, err := th.LoadWord(heap + Vaddr(i*PageSize))
		require.NoError(t, err)
		require.Zero(t, w, "page #%d", i)
	}
	checkCoremap(t, m)
}

// touchStack stores a tagged word to each of its pages and reads them back,
// a few rounds over.
func touchStack(th *Thread, first, pages, tag, rounds int) error {
	for round := 0; round < rounds; round++ {
		value := func(i int) uint32 {
			return uint32(tag<<24 | round<<16 | i)
		}
		for i := 0; i < pages; i++ {
			if err := th.StoreWord(stackPage(first+i), value(i)); err != nil {
				return err
			}
		}
		for i := 0; i < pages; i++ {
			w, err := th.LoadWord(stackPage(first + i))
			if err != nil {
				return err
			}
			if w != value(i) {
				return errors.Errorf("thread %d, round %d, page #%d: read %#x, expected %#x",
					tag, round, first+i, w, value(i))
			}
		}
	}
	return nil
}

func TestConcurrentThreads(t *testing.T) {
	const (
		frames  = 12
		spaces  = 2
		threads = 2
		pages   = 8
		rounds  = 3
	)

	m := newTestManager(t, frames)
	m.limiter = rate.NewLimiter(rate.Inf, 1)
	m.sleep = func(time.Duration) { time.Sleep(100 * time.Microsecond) }

	all := []*AddressSpace{}
	errs := make(chan error, spaces*threads)
	wg := sync.WaitGroup{}
	for s := 0; s < spaces; s++ {
		as := newTestSpace(t, m)
		all = append(all, as)
		for k := 0; k < threads; k++ {
			wg.Add(1)
			go func(th *Thread, first, tag int) {
				defer wg.Done()
				errs <- touchStack(th, first, pages, tag, rounds)
			}(m.NewThread(as), k*pages, s*threads+k)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c := m.Stats().Counters()
	require.NotZero(t, c.Evictions)
	require.NotZero(t, c.SwapReads)
	require.Zero(t, m.FrameCounts()[TempFixed])
	for _, as := range all {
		checkUnlocked(t, as, 0, threads*pages)
	}
	checkCoremap(t, m)
}
