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

	"github.com/livekit/ssrc-relay/pkg/logger"
)

type StatsParams struct {
	Hash     *Hash[*EntryCall]
	Observer Observer
	Logger   logger.Logger
}

// Stats ingests parsed RTCP reports into the entries of a call registry and
// derives RTT, loss, jitter and MOS. All methods are safe for concurrent use;
// reports for one SSRC must be fed in arrival order.
type Stats struct {
	params StatsParams
}

func NewStats(params StatsParams) *Stats {
	if params.Observer == nil {
		params.Observer = NopObserver{}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &Stats{params: params}
}

func (s *Stats) Hash() *Hash[*EntryCall] {
	return s.params.Hash
}

// SenderReport records sr so that a later receiver report echoing its NTP
// timestamp can be matched.
func (s *Stats) SenderReport(sr *SenderReport, received time.Time) error {
	e, err := s.params.Hash.Get(sr.SSRC)
	if err != nil {
		return err
	}
	defer e.Release()

	e.lock.Lock()
	pushBounded(&e.senderReports, SenderReportItem{
		TimeItem: newTimeItem(received, sr.NtpMSW, sr.NtpLSW),
		Report:   *sr,
	}, e.params.SenderReports)
	e.lock.Unlock()

	s.params.Observer.OnReport(ReportSender)
	return nil
}

// ReceiverReport updates loss and same leg RTT for the reportee of rr and
// computes a stats block.
func (s *Stats) ReceiverReport(rr *ReceiverReport, received time.Time) error {
	e, err := s.params.Hash.Get(rr.SSRC)
	if err != nil {
		return err
	}
	defer e.Release()

	// tracker has its own lock, resolve before taking the entry lock
	clockRate := e.input.clockRate()

	var (
		rtt    time.Duration
		rttOK  bool
		block  *StatsBlock
		hasMOS bool
	)

	e.lock.Lock()
	e.packetsLost = rr.PacketsLost

	// a zero LSR only matches if an SR with zero middle bits was recorded
	srAt := func(i int) TimeItem { return e.senderReports.At(i).TimeItem }
	if item, ok := findTimeItem(e.senderReports.Len(), srAt, rr.LSR); ok {
		if rtt, rttOK = roundTrip(received, item.Received, rr.DLSR); rttOK {
			e.lastRTT = durationToMicros32(rtt)
			e.hasLastRTT = true
		}
	}

	block, hasMOS = e.addStatsBlockLocked(rr, received, clockRate)
	e.lock.Unlock()

	if !rttOK {
		s.params.Logger.Debugw("no rtt from receiver report", "receiverReport", rr)
	} else {
		s.params.Observer.OnRTT(rr.SSRC, uint64(rtt/time.Microsecond), false)
	}
	s.params.Observer.OnReport(ReportReceiver)
	s.params.Observer.OnStatsBlock(rr.SSRC, block)
	if !hasMOS {
		s.params.Observer.OnMOSUnavailable(rr.SSRC)
	}
	return nil
}

// ReceiverRRTime records an XR receiver reference time for later matching
// against a DLRR block.
func (s *Stats) ReceiverRRTime(rr *XRRRTime, received time.Time) error {
	e, err := s.params.Hash.Get(rr.SSRC)
	if err != nil {
		return err
	}
	defer e.Release()

	e.lock.Lock()
	pushBounded(&e.rrTimeReports, newTimeItem(received, rr.NtpMSW, rr.NtpLSW), e.params.RRTimeReports)
	e.lock.Unlock()

	s.params.Observer.OnReport(ReportRRTime)
	return nil
}

// ReceiverDLRR derives the cross leg RTT from a DLRR sub-block. An LRR
// without a matching reference time is ignored.
func (s *Stats) ReceiverDLRR(dlrr *XRDLRR, received time.Time) error {
	e, err := s.params.Hash.Get(dlrr.SSRC)
	if err != nil {
		return err
	}
	defer e.Release()

	var (
		rtt   time.Duration
		rttOK bool
	)

	e.lock.Lock()
	if item, ok := findTimeItem(e.rrTimeReports.Len(), e.rrTimeReports.At, dlrr.LRR); ok {
		if rtt, rttOK = roundTrip(received, item.Received, dlrr.DLRR); rttOK {
			e.lastRTTXR = durationToMicros32(rtt)
			e.hasLastRTTXR = true
		}
	}
	e.lock.Unlock()

	s.params.Observer.OnReport(ReportDLRR)
	if !rttOK {
		s.params.Logger.Debugw("no matching reference time for dlrr", "ssrc", dlrr.SSRC, "lrr", dlrr.LRR)
		return nil
	}
	s.params.Observer.OnRTT(dlrr.SSRC, uint64(rtt/time.Microsecond), true)
	return nil
}

// VoIPMetrics stores the latest VoIP metrics block, used as a fallback RTT
// and MOS source.
func (s *Stats) VoIPMetrics(vm *XRVoIPMetrics, received time.Time) error {
	e, err := s.params.Hash.Get(vm.SSRC)
	if err != nil {
		return err
	}
	defer e.Release()

	e.lock.Lock()
	e.voipMetrics = *vm
	e.voipMetricsReceived = received
	e.lock.Unlock()

	s.params.Observer.OnReport(ReportVoIPMetrics)
	return nil
}

// newest first, so a repeated NTP value matches the most recent report
func findTimeItem(n int, at func(int) TimeItem, middleBits uint32) (TimeItem, bool) {
	for i := n - 1; i >= 0; i-- {
		if item := at(i); item.NtpMiddleBits == middleBits {
			return item, true
		}
	}
	return TimeItem{}, false
}

func durationToMicros32(d time.Duration) uint32 {
	us := d / time.Microsecond
	if us > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(us)
}

// -------------------------------------------------------------------

// combinedRTTLocked picks the RTT used for MOS: the cross leg XR value when
// known, else the same leg value, else the round trip delay of a VoIP
// metrics block.
func (e *EntryCall) combinedRTTLocked() (uint64, bool) {
	switch {
	case e.hasLastRTTXR:
		return uint64(e.lastRTTXR), true
	case e.hasLastRTT:
		return uint64(e.lastRTT), true
	case !e.voipMetricsReceived.IsZero() && e.voipMetrics.RndTripDelay != 0:
		return uint64(e.voipMetrics.RndTripDelay) * 1000, true
	default:
		return 0, false
	}
}

func (e *EntryCall) addStatsBlockLocked(rr *ReceiverReport, received time.Time, clockRate uint32) (*StatsBlock, bool) {
	block := &StatsBlock{
		Reported:   received,
		Jitter:     uint64(rr.Jitter) * 1000 / uint64(clockRate),
		PacketLoss: uint64(rr.FractionLost) * 100 / 256,
	}
	if e.hasLastRTT {
		block.RTTLeg = e.lastRTT
	}

	if rtt, ok := e.combinedRTTLocked(); ok {
		block.RTT = rtt
		block.MOS = MOS(block.PacketLoss, block.Jitter, rtt)
	} else if !e.voipMetricsReceived.IsZero() {
		if mos, ok := reportedMOS(&e.voipMetrics); ok {
			block.MOS = mos
			block.MOSReported = true
		}
	}

	if !block.HasMOS() {
		e.noMOSCount++
	}

	pushBounded(&e.statsBlocks, block, e.params.StatsBlocks)
	e.average.add(block)

	if block.HasMOS() {
		if e.lowestMOS == nil || block.MOS < e.lowestMOS.MOS {
			e.lowestMOS = block
		}
		if e.highestMOS == nil || block.MOS > e.highestMOS.MOS {
			e.highestMOS = block
		}
	}
	return block, block.HasMOS()
}
