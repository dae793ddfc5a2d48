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

var promPacketLabels = []string{"direction"}

type packetStats struct {
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64

	promPacketTotal  *prometheus.CounterVec
	promPacketBytes  *prometheus.CounterVec
	promDecodeErrors *prometheus.CounterVec
}

func (p *packetStats) initPacketStats(constLabels prometheus.Labels, reg prometheus.Registerer) {
	p.promPacketTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "packet",
		Name:        "total",
		ConstLabels: constLabels,
	}, promPacketLabels)
	p.promPacketBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "packet",
		Name:        "bytes",
		ConstLabels: constLabels,
	}, promPacketLabels)
	p.promDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   relayNamespace,
		Subsystem:   "packet",
		Name:        "decode_errors",
		ConstLabels: constLabels,
	}, []string{"protocol"})

	reg.MustRegister(p.promPacketTotal)
	reg.MustRegister(p.promPacketBytes)
	reg.MustRegister(p.promDecodeErrors)
}

func (p *packetStats) IncrementPackets(direction ssrc.Direction, count uint64) {
	p.promPacketTotal.WithLabelValues(direction.String()).Add(float64(count))
	if direction == ssrc.Input {
		p.packetsIn.Add(count)
	} else {
		p.packetsOut.Add(count)
	}
}

func (p *packetStats) IncrementBytes(direction ssrc.Direction, count uint64) {
	p.promPacketBytes.WithLabelValues(direction.String()).Add(float64(count))
	if direction == ssrc.Input {
		p.bytesIn.Add(count)
	} else {
		p.bytesOut.Add(count)
	}
}

// IncrementDecodeErrors counts a datagram that could not be parsed as
// protocol, "rtp" or "rtcp".
func (p *packetStats) IncrementDecodeErrors(protocol string) {
	p.promDecodeErrors.WithLabelValues(protocol).Inc()
}

type PacketTotals struct {
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
}

func (p *packetStats) PacketTotals() PacketTotals {
	return PacketTotals{
		BytesIn:    p.bytesIn.Load(),
		BytesOut:   p.bytesOut.Load(),
		PacketsIn:  p.packetsIn.Load(),
		PacketsOut: p.packetsOut.Load(),
	}
}
