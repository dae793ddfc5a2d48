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

// static payload types from RFC 3551, table 4 and 5
var staticClockRates = map[uint8]uint32{
	0:  8000,  // PCMU
	3:  8000,  // GSM
	4:  8000,  // G723
	5:  8000,  // DVI4
	6:  16000, // DVI4
	7:  8000,  // LPC
	8:  8000,  // PCMA
	9:  8000,  // G722, 8000 by convention
	10: 44100, // L16 stereo
	11: 44100, // L16 mono
	12: 8000,  // QCELP
	13: 8000,  // CN
	14: 90000, // MPA
	15: 8000,  // G728
	16: 11025, // DVI4
	17: 22050, // DVI4
	18: 8000,  // G729
	25: 90000, // CelB
	26: 90000, // JPEG
	28: 90000, // nv
	31: 90000, // H261
	32: 90000, // MPV
	33: 90000, // MP2T
	34: 90000, // H263
}

// ClockRate returns the RTP clock rate of a static payload type, or fallback
// for dynamic and unassigned ones.
func ClockRate(pt uint8, fallback uint32) uint32 {
	if r, ok := staticClockRates[pt]; ok {
		return r
	}
	return fallback
}
