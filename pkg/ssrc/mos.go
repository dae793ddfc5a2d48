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
	"math"
)

const (
	MinMOS = 10
	MaxMOS = 50
)

// MOS estimates the mean opinion score, scaled by 10, with a simplified
// E-model: one-way latency and jitter reduce the R factor from its 93.2
// default, and every percent of loss costs 2.5 more.
func MOS(packetLossPct uint64, jitterMs uint64, rttMicros uint64) uint64 {
	latency := float64(rttMicros)/1000/2 + 2*float64(jitterMs) + 10

	var r float64
	if latency < 160 {
		r = 93.2 - latency/40
	} else {
		r = 93.2 - (latency-120)/10
	}
	r -= 2.5 * float64(packetLossPct)

	return scaleMOS(rFactorToMOS(r))
}

func rFactorToMOS(r float64) float64 {
	if r < 0 {
		return 1
	}
	if r > 100 {
		return 4.5
	}
	return 1 + 0.035*r + 7.0/1000000*r*(r-60)*(100-r)
}

func scaleMOS(mos float64) uint64 {
	scaled := math.Round(mos * 10)
	if scaled < MinMOS {
		return MinMOS
	}
	if scaled > MaxMOS {
		return MaxMOS
	}
	return uint64(scaled)
}

// reportedMOS picks a MOS from a VoIP metrics block: MOS-LQ when present,
// else one derived from the reported R factor.
func reportedMOS(vm *XRVoIPMetrics) (uint64, bool) {
	if vm.MOSLQ != xrMetricUnavailable && vm.MOSLQ != 0 {
		return clampMOS(uint64(vm.MOSLQ)), true
	}
	if vm.RFactor != xrMetricUnavailable && vm.RFactor != 0 {
		return scaleMOS(rFactorToMOS(float64(vm.RFactor))), true
	}
	return 0, false
}

func clampMOS(mos uint64) uint64 {
	if mos < MinMOS {
		return MinMOS
	}
	if mos > MaxMOS {
		return MaxMOS
	}
	return mos
}
