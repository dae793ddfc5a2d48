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

	"go.uber.org/atomic"
)

// Entry is anything a Hash can store. Implementations embed EntryBase.
type Entry interface {
	Base() *EntryBase
}

// EntryBase is the reference counted part shared by every registry entry.
// The registry owns one reference from insertion until removal; every
// resolved lookup hands out one more, which the caller gives back with
// Release.
type EntryBase struct {
	lock sync.Mutex

	ssrc     uint32
	lastUsed atomic.Int64
	refs     atomic.Int32

	onFree func()
}

func (e *EntryBase) Base() *EntryBase {
	return e
}

func (e *EntryBase) SSRC() uint32 {
	return e.ssrc
}

func (e *EntryBase) LastUsed() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

func (e *EntryBase) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

func (e *EntryBase) Refs() int32 {
	return e.refs.Load()
}

// Hold takes an additional reference.
func (e *EntryBase) Hold() {
	e.refs.Inc()
}

// tryHold takes a reference only if the entry has not been freed yet. It
// guards lookups that race with removal.
func (e *EntryBase) tryHold() bool {
	for {
		n := e.refs.Load()
		if n <= 0 {
			return false
		}
		if e.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last release frees owned resources.
func (e *EntryBase) Release() {
	if e.refs.Dec() == 0 && e.onFree != nil {
		e.onFree()
	}
}

// OnFree registers the function run when the last reference is released.
func (e *EntryBase) OnFree(f func()) {
	e.onFree = f
}

func (e *EntryBase) activate(ssrc uint32, now time.Time) {
	e.ssrc = ssrc
	e.touch(now)
	e.refs.Store(1)
}
