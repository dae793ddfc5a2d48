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
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/ssrc-relay/pkg/logger"
)

var ErrCreateFailed = errors.New("could not create ssrc entry")

// CreateFunc builds a new, not yet registered entry. arg is the opaque value
// passed in HashParams.
type CreateFunc[E Entry] func(arg any) (E, error)

type HashParams[E Entry] struct {
	Create   CreateFunc[E]
	Arg      any
	Observer Observer
	Logger   logger.Logger
	// defaults to time.Now
	Now func() time.Time
}

type cacheSlot[E Entry] struct {
	ssrc  uint32
	entry E
}

// Hash maps SSRCs to reference counted entries, creating them on first use.
//
// Lookups try a lock free single slot cache of the last resolved entry, then
// the map under the read lock, and only insert under the write lock. A spare
// entry is built outside the lock so the insert critical section does not
// pay for construction.
type Hash[E Entry] struct {
	params HashParams[E]

	lock    sync.RWMutex
	entries map[uint32]E
	order   deque.Deque[E]

	cache atomic.Pointer[cacheSlot[E]]
	spare atomic.Pointer[cacheSlot[E]]
}

func NewHash[E Entry](params HashParams[E]) *Hash[E] {
	if params.Observer == nil {
		params.Observer = NopObserver{}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Now == nil {
		params.Now = time.Now
	}

	return &Hash[E]{
		params:  params,
		entries: make(map[uint32]E),
	}
}

// Get returns the entry for ssrc, creating it if needed. The returned entry
// carries a reference the caller must Release.
func (h *Hash[E]) Get(ssrc uint32) (E, error) {
	now := h.params.Now()

	if c := h.cache.Load(); c != nil && c.ssrc == ssrc {
		b := c.entry.Base()
		if b.tryHold() {
			// a sweep clears the slot before dropping the registry reference
			if h.cache.Load() == c {
				b.touch(now)
				return c.entry, nil
			}
			b.Release()
		}
	}

	h.lock.RLock()
	e, ok := h.entries[ssrc]
	if ok {
		e.Base().Hold()
		h.cache.Store(&cacheSlot[E]{ssrc: ssrc, entry: e})
	}
	h.lock.RUnlock()
	if ok {
		e.Base().touch(now)
		return e, nil
	}

	h.lock.Lock()
	// may have lost the race against another inserter
	if e, ok = h.entries[ssrc]; ok {
		e.Base().Hold()
		h.cache.Store(&cacheSlot[E]{ssrc: ssrc, entry: e})
		h.lock.Unlock()

		e.Base().touch(now)
		return e, nil
	}

	if sp := h.spare.Swap(nil); sp != nil {
		e = sp.entry
	} else {
		var err error
		if e, err = h.params.Create(h.params.Arg); err != nil {
			h.lock.Unlock()
			var zero E
			return zero, errors.Wrapf(ErrCreateFailed, "ssrc %d: %v", ssrc, err)
		}
	}

	b := e.Base()
	b.activate(ssrc, now)
	h.entries[ssrc] = e
	h.order.PushBack(e)
	b.Hold()
	h.cache.Store(&cacheSlot[E]{ssrc: ssrc, entry: e})
	h.lock.Unlock()

	h.params.Logger.Debugw("ssrc entry created", "ssrc", ssrc)
	h.params.Observer.OnEntryCreated(ssrc)

	h.prepareSpare()
	return e, nil
}

func (h *Hash[E]) prepareSpare() {
	if h.spare.Load() != nil {
		return
	}

	e, err := h.params.Create(h.params.Arg)
	if err != nil {
		// next insert creates under the lock instead
		return
	}
	h.spare.CompareAndSwap(nil, &cacheSlot[E]{entry: e})
}

// Lookup returns the entry for ssrc without creating it.
func (h *Hash[E]) Lookup(ssrc uint32) (E, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	e, ok := h.entries[ssrc]
	if ok {
		e.Base().Hold()
	}
	return e, ok
}

func (h *Hash[E]) Len() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.entries)
}

// ForEach calls f for every entry in insertion order under the read lock. f
// must not call back into the Hash for writing.
func (h *Hash[E]) ForEach(f func(E)) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for i := 0; i < h.order.Len(); i++ {
		f(h.order.At(i))
	}
}

// Sweep removes entries not used since before now-idle and returns how many
// were removed. Holders of removed entries keep them alive until they
// release.
func (h *Hash[E]) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle).UnixNano()

	var removed []E
	h.lock.Lock()
	n := h.order.Len()
	for i := 0; i < n; i++ {
		e := h.order.PopFront()
		b := e.Base()
		if b.lastUsed.Load() >= cutoff {
			h.order.PushBack(e)
			continue
		}

		delete(h.entries, b.ssrc)
		if c := h.cache.Load(); c != nil && c.ssrc == b.ssrc {
			h.cache.CompareAndSwap(c, nil)
		}
		removed = append(removed, e)
	}
	h.lock.Unlock()

	// entry locks are only taken once the registry lock is released
	for _, e := range removed {
		ssrc := e.Base().SSRC()
		e.Base().Release()
		h.params.Observer.OnEntryRemoved(ssrc)
	}
	if len(removed) != 0 {
		h.params.Logger.Infow("swept idle ssrc entries", "removed", len(removed), "idle", idle)
	}
	return len(removed)
}

// Free drops the registry's reference on every entry and empties the Hash.
// Entries still held elsewhere stay valid until released.
func (h *Hash[E]) Free() {
	h.lock.Lock()
	removed := make([]E, 0, h.order.Len())
	for h.order.Len() != 0 {
		removed = append(removed, h.order.PopFront())
	}
	h.entries = make(map[uint32]E)
	h.cache.Store(nil)
	h.spare.Store(nil)
	h.lock.Unlock()

	for _, e := range removed {
		ssrc := e.Base().SSRC()
		e.Base().Release()
		h.params.Observer.OnEntryRemoved(ssrc)
	}
}
