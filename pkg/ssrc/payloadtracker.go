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
)

const (
	payloadTrackerWindow = 32
	maxPayloadTypes      = 128
)

// PayloadTracker ranks the payload types seen in the last 32 packets of a
// stream direction. most[] is kept sorted by descending count so the dominant
// payload type is available without scanning. The zero value is ready to use.
type PayloadTracker struct {
	lock sync.Mutex

	// payload type + 1, 0 is an empty slot
	last    [payloadTrackerWindow]uint8
	lastIdx int

	count [maxPayloadTypes]uint8
	// position in most + 1, 0 if never seen
	idx     [maxPayloadTypes]uint8
	most    [maxPayloadTypes]uint8
	mostLen int
}

// Reset forgets all observations.
func (t *PayloadTracker) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.last = [payloadTrackerWindow]uint8{}
	t.lastIdx = 0
	t.count = [maxPayloadTypes]uint8{}
	t.idx = [maxPayloadTypes]uint8{}
	t.most = [maxPayloadTypes]uint8{}
	t.mostLen = 0
}

// Add records one observation of payload type pt. Values outside the RTP
// 7-bit range are ignored.
func (t *PayloadTracker) Add(pt uint8) {
	if pt >= maxPayloadTypes {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if slot := t.last[t.lastIdx]; slot != 0 {
		old := slot - 1
		t.count[old]--
		t.sinkLocked(old)
	}

	t.last[t.lastIdx] = pt + 1
	t.lastIdx = (t.lastIdx + 1) % payloadTrackerWindow

	if t.idx[pt] == 0 {
		t.most[t.mostLen] = pt
		t.mostLen++
		t.idx[pt] = uint8(t.mostLen)
	}
	t.count[pt]++
	t.raiseLocked(pt)
}

// only strictly greater counts move, so the first payload type to reach a
// count keeps its rank on ties
func (t *PayloadTracker) raiseLocked(pt uint8) {
	i := int(t.idx[pt]) - 1
	for i > 0 && t.count[t.most[i-1]] < t.count[pt] {
		t.swapLocked(i, i-1)
		i--
	}
}

func (t *PayloadTracker) sinkLocked(pt uint8) {
	i := int(t.idx[pt]) - 1
	for i+1 < t.mostLen && t.count[t.most[i+1]] > t.count[pt] {
		t.swapLocked(i, i+1)
		i++
	}
}

func (t *PayloadTracker) swapLocked(i, j int) {
	a, b := t.most[i], t.most[j]
	t.most[i], t.most[j] = b, a
	t.idx[a], t.idx[b] = uint8(j+1), uint8(i+1)
}

// Dominant returns the payload type currently in use by most packets.
func (t *PayloadTracker) Dominant() (uint8, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.mostLen == 0 {
		return 0, false
	}
	return t.most[0], true
}

// Ranking returns the payload types seen so far, most frequent first.
func (t *PayloadTracker) Ranking() []uint8 {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]uint8, t.mostLen)
	copy(out, t.most[:t.mostLen])
	return out
}

func (t *PayloadTracker) Count(pt uint8) int {
	if pt >= maxPayloadTypes {
		return 0
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	return int(t.count[pt])
}

// Observations is the number of packets currently in the window.
func (t *PayloadTracker) Observations() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	n := 0
	for i := 0; i < t.mostLen; i++ {
		n += int(t.count[t.most[i]])
	}
	return n
}
