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

	"go.uber.org/zap/zapcore"

	"github.com/livekit/mediatransportutil"
)

// SenderReport carries the sender info of an RTCP SR (RFC 3550 6.4.1).
type SenderReport struct {
	SSRC        uint32
	NtpMSW      uint32
	NtpLSW      uint32
	Timestamp   uint32
	PacketCount uint32
	OctetCount  uint32
}

func (s *SenderReport) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if s == nil {
		return nil
	}

	e.AddUint32("SSRC", s.SSRC)
	e.AddTime("NtpTime", ntpTimestamp(s.NtpMSW, s.NtpLSW).Time())
	e.AddUint32("Timestamp", s.Timestamp)
	e.AddUint32("PacketCount", s.PacketCount)
	e.AddUint32("OctetCount", s.OctetCount)
	return nil
}

// ReceiverReport is one reception report block (RFC 3550 6.4.2). SSRC is the
// reportee, From the reporter.
type ReceiverReport struct {
	From            uint32
	SSRC            uint32
	FractionLost    uint8
	PacketsLost     uint32
	HighSeqReceived uint32
	Jitter          uint32
	LSR             uint32
	DLSR            uint32
}

func (r *ReceiverReport) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if r == nil {
		return nil
	}

	e.AddUint32("From", r.From)
	e.AddUint32("SSRC", r.SSRC)
	e.AddUint8("FractionLost", r.FractionLost)
	e.AddUint32("PacketsLost", r.PacketsLost)
	e.AddUint32("HighSeqReceived", r.HighSeqReceived)
	e.AddUint32("Jitter", r.Jitter)
	e.AddUint32("LSR", r.LSR)
	e.AddUint32("DLSR", r.DLSR)
	return nil
}

// XRRRTime is an XR receiver reference time block (RFC 3611 4.4).
type XRRRTime struct {
	SSRC   uint32
	NtpMSW uint32
	NtpLSW uint32
}

// XRDLRR is one sub-block of an XR DLRR block (RFC 3611 4.5).
type XRDLRR struct {
	From uint32
	SSRC uint32
	LRR  uint32
	DLRR uint32
}

// XRVoIPMetrics is an XR VoIP metrics block (RFC 3611 4.7).
type XRVoIPMetrics struct {
	From          uint32
	SSRC          uint32
	LossRate      uint8
	DiscardRate   uint8
	BurstDensity  uint8
	GapDensity    uint8
	BurstDuration uint16
	GapDuration   uint16
	RndTripDelay  uint16
	EndSysDelay   uint16
	SignalLevel   uint8
	NoiseLevel    uint8
	RERL          uint8
	Gmin          uint8
	RFactor       uint8
	ExtRFactor    uint8
	MOSLQ         uint8
	MOSCQ         uint8
	RXConfig      uint8
	JBNominal     uint16
	JBMax         uint16
	JBAbsMax      uint16
}

// 127 signals an unavailable value in the R factor and MOS fields
const xrMetricUnavailable = 127

func (v *XRVoIPMetrics) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if v == nil {
		return nil
	}

	e.AddUint32("From", v.From)
	e.AddUint32("SSRC", v.SSRC)
	e.AddUint8("LossRate", v.LossRate)
	e.AddUint8("DiscardRate", v.DiscardRate)
	e.AddUint16("RndTripDelay", v.RndTripDelay)
	e.AddUint16("EndSysDelay", v.EndSysDelay)
	e.AddUint8("RFactor", v.RFactor)
	e.AddUint8("ExtRFactor", v.ExtRFactor)
	e.AddUint8("MOSLQ", v.MOSLQ)
	e.AddUint8("MOSCQ", v.MOSCQ)
	e.AddUint16("JBNominal", v.JBNominal)
	e.AddUint16("JBMax", v.JBMax)
	e.AddUint16("JBAbsMax", v.JBAbsMax)
	return nil
}

// -------------------------------------------------------------------

// TimeItem records when an NTP-stamped report was received, keyed by the
// middle bits the peer echoes back.
type TimeItem struct {
	Received      time.Time
	NtpMiddleBits uint32
	NtpTimestamp  mediatransportutil.NtpTime
}

func newTimeItem(received time.Time, msw, lsw uint32) TimeItem {
	return TimeItem{
		Received:      received,
		NtpMiddleBits: NtpMiddleBits(msw, lsw),
		NtpTimestamp:  ntpTimestamp(msw, lsw),
	}
}

type SenderReportItem struct {
	TimeItem
	Report SenderReport
}

func (s *SenderReportItem) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if s == nil {
		return nil
	}

	e.AddTime("Received", s.Received)
	e.AddUint32("NtpMiddleBits", s.NtpMiddleBits)
	return e.AddObject("Report", &s.Report)
}

// -------------------------------------------------------------------

// StatsBlock is the quality snapshot derived from one receiver report.
type StatsBlock struct {
	Reported time.Time
	// ms
	Jitter uint64
	// us, combined from both sides
	RTT uint64
	// us, only the leg that sent the receiver report
	RTTLeg uint32
	// percent
	PacketLoss uint64
	// 10 - 50 for MOS 1.0 to 5.0, 0 if unavailable
	MOS uint64
	// MOS taken from a VoIP metrics block instead of being computed
	MOSReported bool
}

func (s *StatsBlock) HasMOS() bool {
	return s.MOS != 0
}

func (s *StatsBlock) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if s == nil {
		return nil
	}

	e.AddTime("Reported", s.Reported)
	e.AddUint64("Jitter", s.Jitter)
	e.AddUint64("RTT", s.RTT)
	e.AddUint32("RTTLeg", s.RTTLeg)
	e.AddUint64("PacketLoss", s.PacketLoss)
	e.AddUint64("MOS", s.MOS)
	e.AddBool("MOSReported", s.MOSReported)
	return nil
}
