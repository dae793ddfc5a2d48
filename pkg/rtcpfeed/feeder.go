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

package rtcpfeed

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/livekit/ssrc-relay/pkg/logger"
	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

var (
	ErrEmptyPacket = errors.New("empty packet")
	ErrNotRTP      = errors.New("not an rtp packet")
)

// Feeder decodes RTP and RTCP from the wire and feeds the results into the
// SSRC registry and statistics engine.
type Feeder struct {
	stats  *ssrc.Stats
	logger logger.Logger
}

func NewFeeder(stats *ssrc.Stats, l logger.Logger) *Feeder {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Feeder{
		stats:  stats,
		logger: l,
	}
}

// Decode parses a compound RTCP packet.
func Decode(buf []byte) ([]rtcp.Packet, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyPacket
	}
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode rtcp")
	}
	return pkts, nil
}

// SenderSSRC returns the SSRC of the originator of pkt, 0 for packet types
// that do not carry one.
func SenderSSRC(pkt rtcp.Packet) uint32 {
	switch pkt := pkt.(type) {
	case *rtcp.SenderReport:
		return pkt.SSRC
	case *rtcp.ReceiverReport:
		return pkt.SSRC
	case *rtcp.ExtendedReport:
		return pkt.SenderSSRC
	case *rtcp.SourceDescription:
		if len(pkt.Chunks) != 0 {
			return pkt.Chunks[0].Source
		}
	}
	return 0
}

// HandleRTCP decodes a compound RTCP packet received at receivedAt and
// ingests every report it carries.
func (f *Feeder) HandleRTCP(buf []byte, receivedAt time.Time) error {
	pkts, err := Decode(buf)
	if err != nil {
		return err
	}
	return f.Ingest(pkts, receivedAt)
}

// Ingest feeds decoded RTCP packets into the statistics engine. Packet and
// block types without statistics value are skipped.
func (f *Feeder) Ingest(pkts []rtcp.Packet, receivedAt time.Time) error {
	var errs error
	for _, pkt := range pkts {
		switch pkt := pkt.(type) {
		case *rtcp.SenderReport:
			errs = multierr.Append(errs, f.stats.SenderReport(&ssrc.SenderReport{
				SSRC:        pkt.SSRC,
				NtpMSW:      uint32(pkt.NTPTime >> 32),
				NtpLSW:      uint32(pkt.NTPTime),
				Timestamp:   pkt.RTPTime,
				PacketCount: pkt.PacketCount,
				OctetCount:  pkt.OctetCount,
			}, receivedAt))
			errs = multierr.Append(errs, f.receptionReports(pkt.SSRC, pkt.Reports, receivedAt))

		case *rtcp.ReceiverReport:
			errs = multierr.Append(errs, f.receptionReports(pkt.SSRC, pkt.Reports, receivedAt))

		case *rtcp.ExtendedReport:
			errs = multierr.Append(errs, f.extendedReport(pkt, receivedAt))

		default:
			f.logger.Debugw("skipping rtcp packet", "type", fmt.Sprintf("%T", pkt))
		}
	}
	return errs
}

func (f *Feeder) receptionReports(from uint32, reports []rtcp.ReceptionReport, receivedAt time.Time) error {
	var errs error
	for _, r := range reports {
		errs = multierr.Append(errs, f.stats.ReceiverReport(&ssrc.ReceiverReport{
			From:            from,
			SSRC:            r.SSRC,
			FractionLost:    r.FractionLost,
			PacketsLost:     r.TotalLost,
			HighSeqReceived: r.LastSequenceNumber,
			Jitter:          r.Jitter,
			LSR:             r.LastSenderReport,
			DLSR:            r.Delay,
		}, receivedAt))
	}
	return errs
}

func (f *Feeder) extendedReport(xr *rtcp.ExtendedReport, receivedAt time.Time) error {
	var errs error
	for _, block := range xr.Reports {
		switch block := block.(type) {
		case *rtcp.ReceiverReferenceTimeReportBlock:
			errs = multierr.Append(errs, f.stats.ReceiverRRTime(&ssrc.XRRRTime{
				SSRC:   xr.SenderSSRC,
				NtpMSW: uint32(block.NTPTimestamp >> 32),
				NtpLSW: uint32(block.NTPTimestamp),
			}, receivedAt))

		case *rtcp.DLRRReportBlock:
			for _, d := range block.Reports {
				errs = multierr.Append(errs, f.stats.ReceiverDLRR(&ssrc.XRDLRR{
					From: xr.SenderSSRC,
					SSRC: d.SSRC,
					LRR:  d.LastRR,
					DLRR: d.DLRR,
				}, receivedAt))
			}

		case *rtcp.VoIPMetricsReportBlock:
			errs = multierr.Append(errs, f.stats.VoIPMetrics(&ssrc.XRVoIPMetrics{
				From:          xr.SenderSSRC,
				SSRC:          block.SSRC,
				LossRate:      block.LossRate,
				DiscardRate:   block.DiscardRate,
				BurstDensity:  block.BurstDensity,
				GapDensity:    block.GapDensity,
				BurstDuration: block.BurstDuration,
				GapDuration:   block.GapDuration,
				RndTripDelay:  block.RoundTripDelay,
				EndSysDelay:   block.EndSystemDelay,
				SignalLevel:   uint8(block.SignalLevel),
				NoiseLevel:    uint8(block.NoiseLevel),
				RERL:          block.RERL,
				Gmin:          block.Gmin,
				RFactor:       block.RFactor,
				ExtRFactor:    block.ExtRFactor,
				MOSLQ:         block.MOSLQ,
				MOSCQ:         block.MOSCQ,
				RXConfig:      block.RXConfig,
				JBNominal:     block.JBNominal,
				JBMax:         block.JBMaximum,
				JBAbsMax:      block.JBAbsMax,
			}, receivedAt))

		default:
			f.logger.Debugw("skipping xr block", "ssrc", xr.SenderSSRC, "type", fmt.Sprintf("%T", block))
		}
	}
	return errs
}

// -------------------------------------------------------------------

// DecodeRTP parses the header of an RTP packet and returns it with the
// payload size.
func DecodeRTP(buf []byte) (*rtp.Header, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrEmptyPacket
	}

	hdr := &rtp.Header{}
	n, err := hdr.Unmarshal(buf)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not decode rtp")
	}
	if hdr.Version != 2 {
		return nil, 0, ErrNotRTP
	}

	payloadSize := len(buf) - n
	if hdr.Padding && payloadSize > 0 {
		payloadSize -= int(buf[len(buf)-1])
		if payloadSize < 0 {
			payloadSize = 0
		}
	}
	return hdr, payloadSize, nil
}

// HandleRTP accounts one RTP packet on the dir context of its SSRC,
// associating the stream with ref on first sight.
func (f *Feeder) HandleRTP(buf []byte, dir ssrc.Direction, ref ssrc.SessionRef, receivedAt time.Time) error {
	hdr, payloadSize, err := DecodeRTP(buf)
	if err != nil {
		return err
	}
	return f.ObserveRTP(hdr, payloadSize, dir, ref, receivedAt)
}

func (f *Feeder) ObserveRTP(hdr *rtp.Header, payloadSize int, dir ssrc.Direction, ref ssrc.SessionRef, receivedAt time.Time) error {
	c, err := ssrc.GetCtx(f.stats.Hash(), hdr.SSRC, dir, ref)
	if err != nil {
		return err
	}
	defer c.Release()

	c.ObservePacket(hdr, payloadSize, receivedAt)
	return nil
}
