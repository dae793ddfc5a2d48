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

	"github.com/gammazero/deque"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/ssrc-relay/pkg/logger"
)

const (
	DefaultSenderReportHistory = 10
	DefaultRRTimeHistory       = 10
	DefaultStatsBlockHistory   = 60
	DefaultClockRate           = 8000
)

type EntryCallParams struct {
	SenderReports    int
	RRTimeReports    int
	StatsBlocks      int
	DefaultClockRate uint32
}

func (p *EntryCallParams) setDefaults() {
	if p.SenderReports <= 0 {
		p.SenderReports = DefaultSenderReportHistory
	}
	if p.RRTimeReports <= 0 {
		p.RRTimeReports = DefaultRRTimeHistory
	}
	if p.StatsBlocks <= 0 {
		p.StatsBlocks = DefaultStatsBlockHistory
	}
	if p.DefaultClockRate == 0 {
		p.DefaultClockRate = DefaultClockRate
	}
}

// EntryCall is the session record of one SSRC in a call: both direction
// contexts plus the bounded RTCP history and derived statistics.
type EntryCall struct {
	EntryBase

	params EntryCallParams

	input  Ctx
	output Ctx

	// everything below is guarded by EntryBase.lock
	senderReports deque.Deque[SenderReportItem]
	rrTimeReports deque.Deque[TimeItem]
	statsBlocks   deque.Deque[*StatsBlock]

	lowestMOS  *StatsBlock
	highestMOS *StatsBlock
	average    statsTally
	// reports for which MOS could not be derived for lack of RTT
	noMOSCount uint32
	// RTCP cumulative number of packets lost
	packetsLost uint32

	// us, same leg from LSR/DLSR
	lastRTT    uint32
	hasLastRTT bool
	// us, both legs from XR DLRR
	lastRTTXR    uint32
	hasLastRTTXR bool

	voipMetrics         XRVoIPMetrics
	voipMetricsReceived time.Time

	// input only
	sequencer sequencer
	// output only
	seqDiff atomic.Uint32
}

func NewEntryCall(params EntryCallParams) *EntryCall {
	params.setDefaults()

	e := &EntryCall{params: params}
	e.input.parent, e.input.dir = e, Input
	e.output.parent, e.output.dir = e, Output
	e.OnFree(e.free)
	return e
}

// NewCallHash returns a registry of EntryCall records built with params.
func NewCallHash(params EntryCallParams, observer Observer, l logger.Logger) *Hash[*EntryCall] {
	return NewHash(HashParams[*EntryCall]{
		Create: func(arg any) (*EntryCall, error) {
			return NewEntryCall(arg.(EntryCallParams)), nil
		},
		Arg:      params,
		Observer: observer,
		Logger:   l,
	})
}

func (e *EntryCall) free() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.senderReports.Clear()
	e.rrTimeReports.Clear()
	e.statsBlocks.Clear()
	e.lowestMOS = nil
	e.highestMOS = nil
}

func (e *EntryCall) Input() *Ctx {
	return &e.input
}

func (e *EntryCall) Output() *Ctx {
	return &e.output
}

func (e *EntryCall) Ctx(dir Direction) (*Ctx, error) {
	switch dir {
	case Input:
		return &e.input, nil
	case Output:
		return &e.output, nil
	default:
		return nil, ErrInvalidDirection
	}
}

func (e *EntryCall) SeqDiff() uint16 {
	return uint16(e.seqDiff.Load())
}

func (e *EntryCall) SetSeqDiff(d uint16) {
	e.seqDiff.Store(uint32(d))
}

func (e *EntryCall) updateSequence(seq uint16, ts uint32, at time.Time, clockRate uint32) (uint64, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.sequencer.update(seq, ts, at, clockRate)
}

// InputJitter is the interarrival jitter of received media in timestamp
// units.
func (e *EntryCall) InputJitter() uint32 {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.sequencer.interarrivalJitter()
}

func pushBounded[T any](q *deque.Deque[T], v T, capacity int) {
	for q.Len() >= capacity {
		q.PopFront()
	}
	q.PushBack(v)
}

// -------------------------------------------------------------------

func (e *EntryCall) SenderReports() []SenderReportItem {
	e.lock.Lock()
	defer e.lock.Unlock()

	out := make([]SenderReportItem, e.senderReports.Len())
	for i := range out {
		out[i] = e.senderReports.At(i)
	}
	return out
}

func (e *EntryCall) RRTimeReports() []TimeItem {
	e.lock.Lock()
	defer e.lock.Unlock()

	out := make([]TimeItem, e.rrTimeReports.Len())
	for i := range out {
		out[i] = e.rrTimeReports.At(i)
	}
	return out
}

func (e *EntryCall) StatsBlocks() []StatsBlock {
	e.lock.Lock()
	defer e.lock.Unlock()

	out := make([]StatsBlock, e.statsBlocks.Len())
	for i := range out {
		out[i] = *e.statsBlocks.At(i)
	}
	return out
}

func (e *EntryCall) LowestMOS() (StatsBlock, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.lowestMOS == nil {
		return StatsBlock{}, false
	}
	return *e.lowestMOS, true
}

func (e *EntryCall) HighestMOS() (StatsBlock, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.highestMOS == nil {
		return StatsBlock{}, false
	}
	return *e.highestMOS, true
}

// AverageStats returns the running average over every stats block computed
// so far, MOS averaged over the blocks that carried one.
func (e *EntryCall) AverageStats() (StatsBlock, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.average.mean()
}

func (e *EntryCall) NoMOSCount() uint32 {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.noMOSCount
}

func (e *EntryCall) PacketsLost() uint32 {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.packetsLost
}

func (e *EntryCall) LastRTT() (time.Duration, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return time.Duration(e.lastRTT) * time.Microsecond, e.hasLastRTT
}

func (e *EntryCall) LastRTTXR() (time.Duration, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return time.Duration(e.lastRTTXR) * time.Microsecond, e.hasLastRTTXR
}

func (e *EntryCall) VoIPMetrics() (XRVoIPMetrics, time.Time, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.voipMetrics, e.voipMetricsReceived, !e.voipMetricsReceived.IsZero()
}

func (e *EntryCall) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if e == nil {
		return nil
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	enc.AddUint32("SSRC", e.ssrc)
	enc.AddTime("LastUsed", e.LastUsed())
	enc.AddInt("SenderReports", e.senderReports.Len())
	enc.AddInt("RRTimeReports", e.rrTimeReports.Len())
	enc.AddInt("StatsBlocks", e.statsBlocks.Len())
	enc.AddUint32("NoMOSCount", e.noMOSCount)
	enc.AddUint32("PacketsLost", e.packetsLost)
	if e.hasLastRTT {
		enc.AddUint32("LastRTT", e.lastRTT)
	}
	if e.hasLastRTTXR {
		enc.AddUint32("LastRTTXR", e.lastRTTXR)
	}
	return nil
}

// -------------------------------------------------------------------

// statsTally keeps per field sums so the average does not drift with the
// order blocks arrive in.
type statsTally struct {
	blocks     uint64
	jitter     uint64
	rtt        uint64
	rttLeg     uint64
	packetLoss uint64

	mosBlocks uint64
	mos       uint64

	last time.Time
}

func (t *statsTally) add(b *StatsBlock) {
	t.blocks++
	t.jitter += b.Jitter
	t.rtt += b.RTT
	t.rttLeg += uint64(b.RTTLeg)
	t.packetLoss += b.PacketLoss
	if b.HasMOS() {
		t.mosBlocks++
		t.mos += b.MOS
	}
	t.last = b.Reported
}

func (t *statsTally) mean() (StatsBlock, bool) {
	if t.blocks == 0 {
		return StatsBlock{}, false
	}

	avg := StatsBlock{
		Reported:   t.last,
		Jitter:     t.jitter / t.blocks,
		RTT:        t.rtt / t.blocks,
		RTTLeg:     uint32(t.rttLeg / t.blocks),
		PacketLoss: t.packetLoss / t.blocks,
	}
	if t.mosBlocks != 0 {
		avg.MOS = t.mos / t.mosBlocks
	}
	return avg, true
}
