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
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/livekit/ssrc-relay/pkg/logger"
	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

func newTestFeeder(t *testing.T) (*Feeder, *ssrc.Hash[*ssrc.EntryCall]) {
	l := logger.NewTestLogger(t)
	h := ssrc.NewCallHash(ssrc.EntryCallParams{}, nil, l)
	stats := ssrc.NewStats(ssrc.StatsParams{Hash: h, Logger: l})
	return NewFeeder(stats, l), h
}

func marshal(t *testing.T, pkts ...rtcp.Packet) []byte {
	buf, err := rtcp.Marshal(pkts)
	require.NoError(t, err)
	return buf
}

func lookup(t *testing.T, h *ssrc.Hash[*ssrc.EntryCall], id uint32) *ssrc.EntryCall {
	e, ok := h.Lookup(id)
	require.True(t, ok, "ssrc %x", id)
	t.Cleanup(e.Release)
	return e
}

func TestFeederSenderReceiverReport(t *testing.T) {
	f, h := newTestFeeder(t)

	t0 := time.Now()
	require.NoError(t, f.HandleRTCP(marshal(t,
		&rtcp.SenderReport{
			SSRC:        0xAAAA1111,
			NTPTime:     uint64(0x8000_0000) << 32,
			RTPTime:     1000,
			PacketCount: 10,
			OctetCount:  1600,
		},
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: 0xAAAA1111,
				Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "relay"}},
			}},
		},
	), t0))

	require.NoError(t, f.HandleRTCP(marshal(t,
		&rtcp.ReceiverReport{
			SSRC: 0xBBBB2222,
			Reports: []rtcp.ReceptionReport{{
				SSRC:             0xAAAA1111,
				FractionLost:     64,
				TotalLost:        3,
				Jitter:           80,
				LastSenderReport: ssrc.NtpMiddleBits(0x8000_0000, 0),
			}},
		},
	), t0.Add(50*time.Millisecond)))

	e := lookup(t, h, 0xAAAA1111)
	srs := e.SenderReports()
	require.Len(t, srs, 1)
	require.Equal(t, uint32(0x8000_0000), srs[0].Report.NtpMSW)
	require.Equal(t, uint32(1600), srs[0].Report.OctetCount)

	rtt, ok := e.LastRTT()
	require.True(t, ok)
	require.InDelta(t, float64(50*time.Millisecond), float64(rtt), float64(time.Millisecond))
	require.Equal(t, uint32(3), e.PacketsLost())

	blocks := e.StatsBlocks()
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(25), blocks[0].PacketLoss)
	require.Equal(t, uint64(10), blocks[0].Jitter)

	// the reporter itself gets no entry from an RR
	_, ok = h.Lookup(0xBBBB2222)
	require.False(t, ok)
}

func TestFeederSenderReportBlocks(t *testing.T) {
	f, h := newTestFeeder(t)

	require.NoError(t, f.HandleRTCP(marshal(t,
		&rtcp.SenderReport{
			SSRC:    0x10,
			Reports: []rtcp.ReceptionReport{{SSRC: 0x20, FractionLost: 128}},
		},
	), time.Now()))

	blocks := lookup(t, h, 0x20).StatsBlocks()
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(50), blocks[0].PacketLoss)
	require.Len(t, lookup(t, h, 0x10).SenderReports(), 1)
}

func TestFeederExtendedReport(t *testing.T) {
	f, h := newTestFeeder(t)

	t0 := time.Now()
	require.NoError(t, f.HandleRTCP(marshal(t,
		&rtcp.ExtendedReport{
			SenderSSRC: 0x1111,
			Reports: []rtcp.ReportBlock{
				&rtcp.ReceiverReferenceTimeReportBlock{
					NTPTimestamp: uint64(0x0001_0002)<<32 | 0x0003_0000,
				},
			},
		},
	), t0))

	require.NoError(t, f.HandleRTCP(marshal(t,
		&rtcp.ExtendedReport{
			SenderSSRC: 0x2222,
			Reports: []rtcp.ReportBlock{
				&rtcp.DLRRReportBlock{
					Reports: []rtcp.DLRRReport{{
						SSRC:   0x1111,
						LastRR: 0x0002_0003,
						DLRR:   ssrc.DurationToCompactNtp(10 * time.Millisecond),
					}},
				},
				&rtcp.VoIPMetricsReportBlock{
					SSRC:           0x3333,
					LossRate:       12,
					RoundTripDelay: 80,
					RFactor:        85,
					MOSLQ:          41,
					MOSCQ:          127,
					JBNominal:      40,
					JBMaximum:      80,
					JBAbsMax:       200,
				},
			},
		},
	), t0.Add(110*time.Millisecond)))

	e := lookup(t, h, 0x1111)
	require.Len(t, e.RRTimeReports(), 1)
	rtt, ok := e.LastRTTXR()
	require.True(t, ok)
	require.InDelta(t, float64(100*time.Millisecond), float64(rtt), float64(time.Millisecond))

	vm, _, ok := lookup(t, h, 0x3333).VoIPMetrics()
	require.True(t, ok)
	require.Equal(t, uint32(0x2222), vm.From)
	require.Equal(t, uint8(12), vm.LossRate)
	require.Equal(t, uint16(80), vm.RndTripDelay)
	require.Equal(t, uint8(85), vm.RFactor)
	require.Equal(t, uint8(41), vm.MOSLQ)
	require.Equal(t, uint16(200), vm.JBAbsMax)
}

func TestFeederDecodeErrors(t *testing.T) {
	f, _ := newTestFeeder(t)

	require.ErrorIs(t, f.HandleRTCP(nil, time.Now()), ErrEmptyPacket)
	require.Error(t, f.HandleRTCP([]byte{0x81, 0xc9}, time.Now()))

	require.ErrorIs(t, f.HandleRTP(nil, ssrc.Input, 0, time.Now()), ErrEmptyPacket)
	require.Error(t, f.HandleRTP([]byte{0x80}, ssrc.Input, 0, time.Now()))
}

func TestSenderSSRC(t *testing.T) {
	require.Equal(t, uint32(1), SenderSSRC(&rtcp.SenderReport{SSRC: 1}))
	require.Equal(t, uint32(2), SenderSSRC(&rtcp.ReceiverReport{SSRC: 2}))
	require.Equal(t, uint32(3), SenderSSRC(&rtcp.ExtendedReport{SenderSSRC: 3}))
	require.Zero(t, SenderSSRC(&rtcp.Goodbye{Sources: []uint32{4}}))
}

func TestFeederRTP(t *testing.T) {
	f, h := newTestFeeder(t)

	now := time.Now()
	for sn := uint16(10); sn < 15; sn++ {
		if sn == 12 {
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    8,
				SequenceNumber: sn,
				Timestamp:      uint32(sn) * 160,
				SSRC:           0x5555,
			},
			Payload: make([]byte, 160),
		}
		buf, err := pkt.Marshal()
		require.NoError(t, err)
		require.NoError(t, f.HandleRTP(buf, ssrc.Input, 42, now))
	}

	in := lookup(t, h, 0x5555).Input()
	require.Equal(t, ssrc.SessionRef(42), in.SessionRef())
	counters := in.Counters()
	require.Equal(t, uint64(4), counters.Packets)
	require.Equal(t, uint64(640), counters.Octets)
	require.Equal(t, uint64(1), counters.PacketsLost)
	require.Equal(t, uint16(14), counters.LastSeq)

	pt, ok := in.Tracker().Dominant()
	require.True(t, ok)
	require.Equal(t, uint8(8), pt)
}
