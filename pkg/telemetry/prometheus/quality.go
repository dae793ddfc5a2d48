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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

type qualityStats struct {
	promReports        *prometheus.CounterVec
	promRTT            *prometheus.HistogramVec
	promMOS            prometheus.Histogram
	promPacketLoss     prometheus.Histogram
	promJitter         prometheus.Histogram
	promMOSReported    prometheus.Counter
	promMOSUnavailable prometheus.Counter
}

func (q *qualityStats) initQualityStats(constLabels prometheus.Labels, reg prometheus.Registerer) {
	q.promReports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "rtcp",
		Name:        "reports",
		ConstLabels: constLabels,
	}, []string{"type"})
	q.promRTT = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "rtt_ms",
		ConstLabels: constLabels,
		Buckets:     []float64{10, 25, 50, 100, 150, 200, 300, 400, 600, 1000},
	}, []string{"leg"})
	q.promMOS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "mos",
		ConstLabels: constLabels,
		Buckets:     []float64{1.0, 2.0, 2.5, 3.0, 3.25, 3.5, 3.75, 4.0, 4.25, 4.5},
	})
	q.promPacketLoss = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "packet_loss_pct",
		ConstLabels: constLabels,
		Buckets:     []float64{0, 1, 2, 5, 10, 20, 50},
	})
	q.promJitter = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "jitter_ms",
		ConstLabels: constLabels,
		Buckets:     []float64{1, 5, 10, 20, 40, 80, 160},
	})
	q.promMOSReported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "mos_reported",
		ConstLabels: constLabels,
		Help:        "Stats blocks whose MOS came from an XR VoIP metrics block.",
	})
	q.promMOSUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "quality",
		Name:        "mos_unavailable",
		ConstLabels: constLabels,
		Help:        "Stats blocks without MOS for lack of a round trip time.",
	})

	reg.MustRegister(q.promReports)
	reg.MustRegister(q.promRTT)
	reg.MustRegister(q.promMOS)
	reg.MustRegister(q.promPacketLoss)
	reg.MustRegister(q.promJitter)
	reg.MustRegister(q.promMOSReported)
	reg.MustRegister(q.promMOSUnavailable)
}

func (q *qualityStats) OnReport(t ssrc.ReportType) {
	q.promReports.WithLabelValues(string(t)).Inc()
}

func (q *qualityStats) OnRTT(_ uint32, rttMicros uint64, crossLeg bool) {
	leg := "same"
	if crossLeg {
		leg = "cross"
	}
	q.promRTT.WithLabelValues(leg).Observe(float64(rttMicros) / 1000)
}

func (q *qualityStats) OnStatsBlock(_ uint32, block *ssrc.StatsBlock) {
	q.promPacketLoss.Observe(float64(block.PacketLoss))
	q.promJitter.Observe(float64(block.Jitter))
	if !block.HasMOS() {
		return
	}
	q.promMOS.Observe(float64(block.MOS) / 10)
	if block.MOSReported {
		q.promMOSReported.Inc()
	}
}

func (q *qualityStats) OnMOSUnavailable(uint32) {
	q.promMOSUnavailable.Inc()
}
