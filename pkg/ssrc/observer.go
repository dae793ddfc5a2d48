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

// ReportType names the RTCP inputs the statistics engine ingests.
type ReportType string

const (
	ReportSender      ReportType = "sr"
	ReportReceiver    ReportType = "rr"
	ReportRRTime      ReportType = "xr_rrt"
	ReportDLRR        ReportType = "xr_dlrr"
	ReportVoIPMetrics ReportType = "xr_voip_metrics"
)

// Observer receives notifications from the registry and the statistics
// engine. Calls are made without any lock held.
type Observer interface {
	OnEntryCreated(ssrc uint32)
	OnEntryRemoved(ssrc uint32)
	OnReport(t ReportType)
	OnRTT(ssrc uint32, rttMicros uint64, crossLeg bool)
	OnStatsBlock(ssrc uint32, block *StatsBlock)
	OnMOSUnavailable(ssrc uint32)
}

type NopObserver struct{}

func (NopObserver) OnEntryCreated(uint32) {}
func (NopObserver) OnEntryRemoved(uint32) {}
func (NopObserver) OnReport(ReportType) {}
func (NopObserver) OnRTT(uint32, uint64, bool) {}
func (NopObserver) OnStatsBlock(uint32, *StatsBlock) {}
func (NopObserver) OnMOSUnavailable(uint32) {}
