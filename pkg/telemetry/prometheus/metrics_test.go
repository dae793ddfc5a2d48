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

package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	metric := &dto.Metric{}
	require.NoError(t, h.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestMetricsEntries(t *testing.T) {
	m := NewMetrics("node", prometheus.NewRegistry())

	h := ssrc.NewCallHash(ssrc.EntryCallParams{}, m, nil)
	for _, id := range []uint32{1, 2, 3} {
		e, err := h.Get(id)
		require.NoError(t, err)
		e.Release()
	}
	require.Equal(t, float64(3), testutil.ToFloat64(m.promEntries))

	h.Free()
	require.Zero(t, testutil.ToFloat64(m.promEntries))
	require.Equal(t, float64(3), testutil.ToFloat64(m.promEntriesCreated))
	require.Equal(t, float64(3), testutil.ToFloat64(m.promEntriesRemoved))
}

func TestMetricsQuality(t *testing.T) {
	m := NewMetrics("node", prometheus.NewRegistry())
	h := ssrc.NewCallHash(ssrc.EntryCallParams{}, m, nil)
	stats := ssrc.NewStats(ssrc.StatsParams{Hash: h, Observer: m})

	t0 := time.Now()
	require.NoError(t, stats.SenderReport(&ssrc.SenderReport{SSRC: 1, NtpMSW: 1}, t0))
	require.NoError(t, stats.ReceiverReport(&ssrc.ReceiverReport{
		SSRC: 1,
		LSR:  ssrc.NtpMiddleBits(1, 0),
	}, t0.Add(40*time.Millisecond)))
	require.NoError(t, stats.ReceiverReport(&ssrc.ReceiverReport{SSRC: 2}, t0))

	require.Equal(t, float64(1), testutil.ToFloat64(m.promReports.WithLabelValues("sr")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.promReports.WithLabelValues("rr")))
	require.Equal(t, 1, testutil.CollectAndCount(m.promRTT))
	require.Equal(t, uint64(1), sampleCount(t, m.promMOS))
	require.Equal(t, uint64(2), sampleCount(t, m.promJitter))
	require.Equal(t, float64(1), testutil.ToFloat64(m.promMOSUnavailable))
	require.Zero(t, testutil.ToFloat64(m.promMOSReported))
}

func TestMetricsPackets(t *testing.T) {
	m := NewMetrics("node", prometheus.NewRegistry())

	m.IncrementPackets(ssrc.Input, 2)
	m.IncrementBytes(ssrc.Input, 320)
	m.IncrementPackets(ssrc.Output, 1)
	m.IncrementBytes(ssrc.Output, 160)
	m.IncrementDecodeErrors("rtcp")

	require.Equal(t, PacketTotals{
		BytesIn:    320,
		BytesOut:   160,
		PacketsIn:  2,
		PacketsOut: 1,
	}, m.PacketTotals())
	require.Equal(t, float64(2), testutil.ToFloat64(m.promPacketTotal.WithLabelValues("input")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.promDecodeErrors.WithLabelValues("rtcp")))
}

func TestInitOnce(t *testing.T) {
	first := Init("node")
	require.NotNil(t, first)
	require.Same(t, first, Init("other"))
}

func TestSystemStatsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("node", reg)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["ssrc_relay_node_cpu_load"])
	require.True(t, names["ssrc_relay_node_load_avg_1m"])
}
