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
	"go.uber.org/atomic"

	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

const (
	relayNamespace string = "ssrc_relay"
)

var _ ssrc.Observer = (*Metrics)(nil)

var (
	initialized atomic.Bool

	defaultMetrics *Metrics
)

// Init registers the relay metrics with the default registry. Calls after
// the first are no-ops.
func Init(nodeID string) *Metrics {
	if initialized.Swap(true) {
		return defaultMetrics
	}

	defaultMetrics = NewMetrics(nodeID, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// Metrics holds every collector of a relay node. It implements
// ssrc.Observer.
type Metrics struct {
	promEntries        prometheus.Gauge
	promEntriesCreated prometheus.Counter
	promEntriesRemoved prometheus.Counter

	packetStats
	qualityStats
}

// NewMetrics creates the collectors labelled with nodeID and registers them
// with reg, panicking on duplicate registration.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	constLabels := prometheus.Labels{"node_id": nodeID}

	m := &Metrics{
		promEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   relayNamespace,
			Subsystem:   "ssrc",
			Name:        "entries",
			ConstLabels: constLabels,
			Help:        "SSRC entries currently registered.",
		}),
		promEntriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   relayNamespace,
			Subsystem:   "ssrc",
			Name:        "entries_created",
			ConstLabels: constLabels,
		}),
		promEntriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   relayNamespace,
			Subsystem:   "ssrc",
			Name:        "entries_removed",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(m.promEntries)
	reg.MustRegister(m.promEntriesCreated)
	reg.MustRegister(m.promEntriesRemoved)

	m.initPacketStats(constLabels, reg)
	m.initQualityStats(constLabels, reg)
	initSystemStats(constLabels, reg)
	return m
}

func (m *Metrics) OnEntryCreated(uint32) {
	m.promEntries.Inc()
	m.promEntriesCreated.Inc()
}

func (m *Metrics) OnEntryRemoved(uint32) {
	m.promEntries.Dec()
	m.promEntriesRemoved.Inc()
}
