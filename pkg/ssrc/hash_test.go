// Copyright 2023 LiveKit, Inc.
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

package ssrc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/ssrc-relay/pkg/logger"
)

type testEntry struct {
	EntryBase
	freed atomic.Bool
}

func newTestEntry(any) (*testEntry, error) {
	e := &testEntry{}
	e.OnFree(func() { e.freed.Store(true) })
	return e, nil
}

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type testObserver struct {
	lock           sync.Mutex
	created        []uint32
	removed        []uint32
	reports        map[ReportType]int
	rtts           []uint64
	blocks         []*StatsBlock
	mosUnavailable int
}

func newTestObserver() *testObserver {
	return &testObserver{reports: make(map[ReportType]int)}
}

func (o *testObserver) OnEntryCreated(ssrc uint32) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.created = append(o.created, ssrc)
}

func (o *testObserver) OnEntryRemoved(ssrc uint32) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.removed = append(o.removed, ssrc)
}

func (o *testObserver) OnReport(t ReportType) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.reports[t]++
}

func (o *testObserver) OnRTT(_ uint32, rttMicros uint64, _ bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.rtts = append(o.rtts, rttMicros)
}

func (o *testObserver) OnStatsBlock(_ uint32, block *StatsBlock) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.blocks = append(o.blocks, block)
}

func (o *testObserver) OnMOSUnavailable(uint32) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.mosUnavailable++
}

func newTestHash(t *testing.T, clock *testClock, observer Observer) *Hash[*testEntry] {
	return NewHash(HashParams[*testEntry]{
		Create:   newTestEntry,
		Observer: observer,
		Logger:   logger.NewTestLogger(t),
		Now:      clock.Now,
	})
}

func TestHashGet(t *testing.T) {
	clock := newTestClock()
	observer := newTestObserver()
	h := newTestHash(t, clock, observer)

	e, err := h.Get(1234)
	require.NoError(t, err)
	require.Equal(t, uint32(1234), e.SSRC())
	// registry + caller
	require.Equal(t, int32(2), e.Refs())
	require.Equal(t, clock.Now(), e.LastUsed())

	// cached
	clock.Advance(time.Second)
	again, err := h.Get(1234)
	require.NoError(t, err)
	require.Same(t, e, again)
	require.Equal(t, int32(3), e.Refs())
	require.Equal(t, clock.Now(), e.LastUsed())

	// not cached
	other, err := h.Get(5678)
	require.NoError(t, err)
	require.NotSame(t, e, other)
	again2, err := h.Get(1234)
	require.NoError(t, err)
	require.Same(t, e, again2)

	e.Release()
	again.Release()
	again2.Release()
	other.Release()
	require.Equal(t, int32(1), e.Refs())
	require.False(t, e.freed.Load())

	require.Equal(t, 2, h.Len())
	require.Equal(t, []uint32{1234, 5678}, observer.created)
}

func TestHashGetConcurrent(t *testing.T) {
	h := newTestHash(t, newTestClock(), nil)

	const workers = 32
	got := make([]*testEntry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := h.Get(42)
			if err == nil {
				got[i] = e
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, h.Len())
	for _, e := range got {
		require.NotNil(t, e)
		require.Same(t, got[0], e)
	}
	require.Equal(t, int32(workers+1), got[0].Refs())

	for _, e := range got {
		e.Release()
	}
	require.Equal(t, int32(1), got[0].Refs())
}

func TestHashCreateFailure(t *testing.T) {
	observer := newTestObserver()
	h := NewHash(HashParams[*testEntry]{
		Create: func(any) (*testEntry, error) {
			return nil, errors.New("out of memory")
		},
		Observer: observer,
	})

	_, err := h.Get(7)
	require.ErrorIs(t, err, ErrCreateFailed)
	require.Zero(t, h.Len())
	require.Empty(t, observer.created)

	_, ok := h.Lookup(7)
	require.False(t, ok)
}

func TestHashCreateArg(t *testing.T) {
	var args []any
	h := NewHash(HashParams[*testEntry]{
		Create: func(arg any) (*testEntry, error) {
			args = append(args, arg)
			return newTestEntry(arg)
		},
		Arg: "media",
	})

	e, err := h.Get(1)
	require.NoError(t, err)
	e.Release()

	require.NotEmpty(t, args)
	for _, a := range args {
		require.Equal(t, "media", a)
	}
}

func TestHashLookup(t *testing.T) {
	h := newTestHash(t, newTestClock(), nil)

	_, ok := h.Lookup(1)
	require.False(t, ok)

	e, err := h.Get(1)
	require.NoError(t, err)
	e.Release()

	found, ok := h.Lookup(1)
	require.True(t, ok)
	require.Same(t, e, found)
	require.Equal(t, int32(2), found.Refs())
	found.Release()
}

func TestHashForEachOrder(t *testing.T) {
	h := newTestHash(t, newTestClock(), nil)

	for _, ssrc := range []uint32{3, 1, 2} {
		e, err := h.Get(ssrc)
		require.NoError(t, err)
		e.Release()
	}

	var order []uint32
	h.ForEach(func(e *testEntry) {
		order = append(order, e.SSRC())
	})
	require.Equal(t, []uint32{3, 1, 2}, order)
}

func TestHashSweep(t *testing.T) {
	clock := newTestClock()
	observer := newTestObserver()
	h := newTestHash(t, clock, observer)

	fresh, err := h.Get(2)
	require.NoError(t, err)
	fresh.Release()

	// entry 1 is the cached one
	held, err := h.Get(1)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	fresh.touch(clock.Now())
	clock.Advance(31 * time.Second)

	require.Equal(t, 1, h.Sweep(clock.Now(), time.Minute))
	require.Equal(t, 1, h.Len())
	require.Equal(t, []uint32{1}, observer.removed)

	// still held by the caller
	require.False(t, held.freed.Load())
	require.Equal(t, int32(1), held.Refs())
	held.Release()
	require.True(t, held.freed.Load())

	// the cache must not resurrect the swept entry
	recreated, err := h.Get(1)
	require.NoError(t, err)
	require.NotSame(t, held, recreated)
	require.Equal(t, int32(2), recreated.Refs())
	recreated.Release()

	require.Zero(t, h.Sweep(clock.Now(), time.Minute))
	require.Equal(t, 2, h.Len())
}

func TestHashFree(t *testing.T) {
	observer := newTestObserver()
	h := newTestHash(t, newTestClock(), observer)

	held, err := h.Get(1)
	require.NoError(t, err)
	other, err := h.Get(2)
	require.NoError(t, err)
	other.Release()

	h.Free()
	require.Zero(t, h.Len())
	require.ElementsMatch(t, []uint32{1, 2}, observer.removed)

	require.True(t, other.freed.Load())
	require.False(t, held.freed.Load())
	held.Release()
	require.True(t, held.freed.Load())

	e, err := h.Get(1)
	require.NoError(t, err)
	require.NotSame(t, held, e)
	e.Release()
}

func TestEntryTryHold(t *testing.T) {
	e, _ := newTestEntry(nil)
	require.False(t, e.tryHold())

	e.activate(9, time.Now())
	require.True(t, e.tryHold())
	require.Equal(t, int32(2), e.Refs())

	e.Release()
	e.Release()
	require.True(t, e.freed.Load())
	require.False(t, e.tryHold())
}
