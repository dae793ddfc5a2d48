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

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

var ErrInvalidDirection = errors.New("invalid ssrc direction")

// SessionRef is a caller owned handle associating a stream with a higher
// level session. It is stored, never interpreted. Zero means unset.
type SessionRef uint64

// Ctx is the per direction state of an SSRC. It only exists embedded in an
// EntryCall and is valid as long as its parent holds a reference.
type Ctx struct {
	parent *EntryCall
	dir    Direction

	tracker PayloadTracker
	ref     atomic.Uint64

	srtpIndex  atomic.Uint64
	srtcpIndex atomic.Uint64

	// for transcoding
	ssrcMapOut atomic.Uint32

	packets     atomic.Uint64
	octets      atomic.Uint64
	packetsLost atomic.Uint64
	duplicates  atomic.Uint64
	lastSeq     atomic.Uint64
	lastTS      atomic.Uint64

	// for self-generated RTCP reports
	nextRTCP atomic.Int64
}

// GetCtx resolves the entry for ssrc and returns its context for dir,
// recording ref as the session reference if none is set yet. The returned
// context holds a reference on its entry; call Release when done.
func GetCtx(h *Hash[*EntryCall], ssrc uint32, dir Direction, ref SessionRef) (*Ctx, error) {
	e, err := h.Get(ssrc)
	if err != nil {
		return nil, err
	}

	c, err := e.Ctx(dir)
	if err != nil {
		e.Release()
		return nil, err
	}

	if ref != 0 {
		c.ref.CompareAndSwap(0, uint64(ref))
	}
	return c, nil
}

func (c *Ctx) Parent() *EntryCall {
	return c.parent
}

func (c *Ctx) Direction() Direction {
	return c.dir
}

func (c *Ctx) SSRC() uint32 {
	return c.parent.SSRC()
}

func (c *Ctx) Tracker() *PayloadTracker {
	return &c.tracker
}

func (c *Ctx) SessionRef() SessionRef {
	return SessionRef(c.ref.Load())
}

// Hold takes a reference on the owning entry and returns c for chaining.
func (c *Ctx) Hold() *Ctx {
	if c == nil {
		return nil
	}
	c.parent.Hold()
	return c
}

// Release drops the reference taken by GetCtx or Hold. c must not be used
// afterwards.
func (c *Ctx) Release() {
	if c == nil {
		return
	}
	c.parent.Release()
}

// ObservePacket accounts one RTP packet. Counters are updated lock free;
// input contexts additionally feed the entry's sequencer for loss and
// jitter.
func (c *Ctx) ObservePacket(hdr *rtp.Header, payloadSize int, at time.Time) {
	c.tracker.Add(hdr.PayloadType)

	if c.packets.Load() != 0 && uint16(c.lastSeq.Load()) == hdr.SequenceNumber {
		c.duplicates.Inc()
		return
	}

	if c.dir == Input {
		lost, dup := c.parent.updateSequence(hdr.SequenceNumber, hdr.Timestamp, at, c.clockRate())
		if dup {
			c.duplicates.Inc()
			return
		}
		c.packetsLost.Store(lost)
	}

	c.packets.Inc()
	c.octets.Add(uint64(payloadSize))
	c.lastSeq.Store(uint64(hdr.SequenceNumber))
	c.lastTS.Store(uint64(hdr.Timestamp))
}

func (c *Ctx) clockRate() uint32 {
	pt, ok := c.tracker.Dominant()
	if !ok {
		return c.parent.params.DefaultClockRate
	}
	return ClockRate(pt, c.parent.params.DefaultClockRate)
}

// SRTPIndex extends a 16-bit sequence number into the 48-bit SRTP packet
// index using the rollover counter guess of RFC 3711 3.3.1. The highest
// index seen only moves forward.
func (c *Ctx) SRTPIndex(seq uint16) uint64 {
	for {
		highest := c.srtpIndex.Load()
		idx := estimateSRTPIndex(highest, seq)
		if idx <= highest {
			return idx
		}
		if c.srtpIndex.CompareAndSwap(highest, idx) {
			return idx
		}
	}
}

func estimateSRTPIndex(highest uint64, seq uint16) uint64 {
	roc := highest >> 16
	sl := uint16(highest)

	v := roc
	if sl < 1<<15 {
		if seq > sl && seq-sl > 1<<15 && roc > 0 {
			v = roc - 1
		}
	} else if sl-(1<<15) > seq {
		v = roc + 1
	}
	return (v&0xFFFF_FFFF)<<16 | uint64(seq)
}

// NextSRTCPIndex returns the 31-bit index for the next SRTCP packet.
func (c *Ctx) NextSRTCPIndex() uint32 {
	return uint32(c.srtcpIndex.Inc()-1) & 0x7FFF_FFFF
}

func (c *Ctx) SetSSRCMapOut(ssrc uint32) {
	c.ssrcMapOut.Store(ssrc)
}

// RemapSSRC returns the SSRC to use on the wire, the transcoding output SSRC
// if one is set.
func (c *Ctx) RemapSSRC() uint32 {
	if m := c.ssrcMapOut.Load(); m != 0 {
		return m
	}
	return c.SSRC()
}

// RemapSequence applies the output sequence offset used when re-sequencing
// transcoded packets. Input contexts return seq unchanged.
func (c *Ctx) RemapSequence(seq uint16) uint16 {
	if c.dir != Output {
		return seq
	}
	return seq + c.parent.SeqDiff()
}

func (c *Ctx) ScheduleRTCP(now time.Time, interval time.Duration) {
	c.nextRTCP.Store(now.Add(interval).UnixNano())
}

func (c *Ctx) NextRTCP() time.Time {
	if n := c.nextRTCP.Load(); n != 0 {
		return time.Unix(0, n)
	}
	return time.Time{}
}

// RTCPDue reports whether the next self-generated report should be sent.
// Contexts never scheduled are due immediately.
func (c *Ctx) RTCPDue(now time.Time) bool {
	return now.UnixNano() >= c.nextRTCP.Load()
}

func (c *Ctx) AddPacketsLost(n uint64) {
	c.packetsLost.Add(n)
}

// -------------------------------------------------------------------

// CtxCounters is a snapshot of the hot path counters. Fields are read
// individually and may not be mutually consistent.
type CtxCounters struct {
	Packets     uint64
	Octets      uint64
	PacketsLost uint64
	Duplicates  uint64
	LastSeq     uint16
	LastTS      uint32
}

func (c *Ctx) Counters() CtxCounters {
	return CtxCounters{
		Packets:     c.packets.Load(),
		Octets:      c.octets.Load(),
		PacketsLost: c.packetsLost.Load(),
		Duplicates:  c.duplicates.Load(),
		LastSeq:     uint16(c.lastSeq.Load()),
		LastTS:      uint32(c.lastTS.Load()),
	}
}

func (c CtxCounters) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddUint64("Packets", c.Packets)
	e.AddUint64("Octets", c.Octets)
	e.AddUint64("PacketsLost", c.PacketsLost)
	e.AddUint64("Duplicates", c.Duplicates)
	e.AddUint16("LastSeq", c.LastSeq)
	e.AddUint32("LastTS", c.LastTS)
	return nil
}
