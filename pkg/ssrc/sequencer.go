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
	"time"
)

const sequencerWindow = 64

// sequencer tracks the input direction of a stream: extended highest
// sequence number, received/expected counts with duplicate detection over
// the last 64 sequence numbers, and RFC 3550 A.8 interarrival jitter.
type sequencer struct {
	started bool

	baseSeq uint64
	maxSeq  uint16
	cycles  uint64
	// bit i set: maxSeq-i was received
	seen     uint64
	received uint64

	firstArrival time.Time
	transit      uint32
	// scaled by 16, see RFC 3550 A.8
	jitter uint32
}

func (s *sequencer) extendedMax() uint64 {
	return s.cycles<<16 | uint64(s.maxSeq)
}

func (s *sequencer) expected() uint64 {
	if !s.started {
		return 0
	}
	return s.extendedMax() - s.baseSeq + 1
}

func (s *sequencer) lost() uint64 {
	expected := s.expected()
	if s.received >= expected {
		return 0
	}
	return expected - s.received
}

// update returns the cumulative lost count and whether the packet was a
// duplicate.
func (s *sequencer) update(seq uint16, ts uint32, at time.Time, clockRate uint32) (uint64, bool) {
	if !s.started {
		s.started = true
		s.baseSeq = uint64(seq)
		s.maxSeq = seq
		s.seen = 1
		s.received = 1
		s.firstArrival = at
		s.transit = s.arrival(at, clockRate) - ts
		return 0, false
	}

	diff := int16(seq - s.maxSeq)
	switch {
	case diff > 0:
		if seq < s.maxSeq {
			s.cycles++
		}
		s.maxSeq = seq
		if diff >= sequencerWindow {
			s.seen = 1
		} else {
			s.seen = s.seen<<uint(diff) | 1
		}

	case diff == 0:
		return s.lost(), true

	default:
		back := -int(diff)
		if back < sequencerWindow {
			bit := uint64(1) << uint(back)
			if s.seen&bit != 0 {
				return s.lost(), true
			}
			s.seen |= bit
		}
	}
	s.received++

	transit := s.arrival(at, clockRate) - ts
	d := int32(transit - s.transit)
	s.transit = transit
	if d < 0 {
		d = -d
	}
	s.jitter += uint32(d) - ((s.jitter + 8) >> 4)

	return s.lost(), false
}

// arrival time in RTP timestamp units relative to the first packet
func (s *sequencer) arrival(at time.Time, clockRate uint32) uint32 {
	elapsed := at.Sub(s.firstArrival)
	if elapsed < 0 {
		return 0
	}
	return uint32(uint64(elapsed/time.Microsecond) * uint64(clockRate) / 1_000_000)
}

// in timestamp units
func (s *sequencer) interarrivalJitter() uint32 {
	return s.jitter >> 4
}
