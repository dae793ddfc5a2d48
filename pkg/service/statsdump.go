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

package service

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

// EntrySummary is a point in time view of one SSRC entry.
type EntrySummary struct {
	SSRC       uint32
	LastUsed   time.Time
	Input      ssrc.CtxCounters
	Output     ssrc.CtxCounters
	Average    ssrc.StatsBlock
	HasAverage bool
	LowestMOS  uint64
	HighestMOS uint64
	NoMOSCount uint32
	RTT        time.Duration
	RTTXR      time.Duration
}

// Summaries snapshots every registered entry in creation order.
func (s *RelayServer) Summaries() []EntrySummary {
	return summarize(s.hash)
}

func summarize(h *ssrc.Hash[*ssrc.EntryCall]) []EntrySummary {
	// entry locks must not be taken under the registry lock
	var entries []*ssrc.EntryCall
	h.ForEach(func(e *ssrc.EntryCall) {
		e.Hold()
		entries = append(entries, e)
	})

	out := make([]EntrySummary, 0, len(entries))
	for _, e := range entries {
		sum := EntrySummary{
			SSRC:       e.SSRC(),
			LastUsed:   e.LastUsed(),
			Input:      e.Input().Counters(),
			Output:     e.Output().Counters(),
			NoMOSCount: e.NoMOSCount(),
		}
		sum.Average, sum.HasAverage = e.AverageStats()
		if low, ok := e.LowestMOS(); ok {
			sum.LowestMOS = low.MOS
		}
		if high, ok := e.HighestMOS(); ok {
			sum.HighestMOS = high.MOS
		}
		sum.RTT, _ = e.LastRTT()
		sum.RTTXR, _ = e.LastRTTXR()
		e.Release()

		out = append(out, sum)
	}
	return out
}

func formatMOS(mos uint64) string {
	if mos == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", float64(mos)/10)
}

// DumpStats renders every entry as a table.
func (s *RelayServer) DumpStats(w io.Writer) {
	writeStatsTable(w, s.Summaries())
}

func writeStatsTable(w io.Writer, summaries []EntrySummary) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"SSRC", "Last Used",
		"Packets In/Out\nBytes In/Out", "Lost\nDuplicates",
		"RTT\nRTT XR", "Jitter\nLoss",
		"MOS avg\nlow/high", "No MOS",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	for _, sum := range summaries {
		packets := fmt.Sprintf("%s / %s\n%s / %s",
			humanize.Comma(int64(sum.Input.Packets)), humanize.Comma(int64(sum.Output.Packets)),
			humanize.Bytes(sum.Input.Octets), humanize.Bytes(sum.Output.Octets),
		)
		lost := fmt.Sprintf("%s\n%s",
			humanize.Comma(int64(sum.Input.PacketsLost)),
			humanize.Comma(int64(sum.Input.Duplicates+sum.Output.Duplicates)),
		)
		rtt := fmt.Sprintf("%v\n%v", sum.RTT, sum.RTTXR)

		quality := "-\n-"
		mos := "-"
		if sum.HasAverage {
			quality = fmt.Sprintf("%d ms\n%d%%", sum.Average.Jitter, sum.Average.PacketLoss)
			mos = formatMOS(sum.Average.MOS)
		}
		mos = fmt.Sprintf("%s\n%s / %s", mos, formatMOS(sum.LowestMOS), formatMOS(sum.HighestMOS))

		table.Append([]string{
			fmt.Sprintf("0x%08x", sum.SSRC),
			humanize.Time(sum.LastUsed),
			packets,
			lost,
			rtt,
			quality,
			mos,
			fmt.Sprintf("%d", sum.NoMOSCount),
		})
	}
	table.Render()
}
