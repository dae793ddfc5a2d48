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

	"github.com/livekit/mediatransportutil"
)

// NtpMiddleBits returns the middle 32 bits of a 64-bit NTP timestamp, the
// form echoed back in LSR and LRR fields.
func NtpMiddleBits(msw, lsw uint32) uint32 {
	return msw<<16 | lsw>>16
}

func ntpTimestamp(msw, lsw uint32) mediatransportutil.NtpTime {
	return mediatransportutil.NtpTime(uint64(msw)<<32 | uint64(lsw))
}

// delay fields (DLSR, DLRR) are in units of 1/65536 seconds
func compactNtpToDuration(v uint32) time.Duration {
	return time.Duration((uint64(v) * uint64(time.Second)) >> 16)
}

// DurationToCompactNtp converts d into 1/65536 second units, as used by
// delay fields.
func DurationToCompactNtp(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32((uint64(d) << 16) / uint64(time.Second))
}

// roundTrip computes (now - echoed) - delay. A negative result means the
// reports are inconsistent and no round trip can be derived.
func roundTrip(now, echoedAt time.Time, delay uint32) (time.Duration, bool) {
	rtt := now.Sub(echoedAt) - compactNtpToDuration(delay)
	if rtt < 0 {
		return 0, false
	}
	return rtt, true
}
