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
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/frostbyte73/core"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/ssrc-relay/pkg/config"
	"github.com/livekit/ssrc-relay/pkg/logger"
	"github.com/livekit/ssrc-relay/pkg/rtcpfeed"
	"github.com/livekit/ssrc-relay/pkg/ssrc"
	"github.com/livekit/ssrc-relay/pkg/telemetry/prometheus"
)

const (
	// larger than any UDP payload over a 1500 byte MTU
	maxPacketSize = 1500

	shutdownTimeout = 5 * time.Second
)

// RelayServer receives RTP and RTCP on UDP and feeds them into the SSRC
// registry and statistics engine.
type RelayServer struct {
	config  *config.Config
	logger  logger.Logger
	metrics *prometheus.Metrics

	hash       *ssrc.Hash[*ssrc.EntryCall]
	stats      *ssrc.Stats
	feeder     *rtcpfeed.Feeder
	dispatcher *rtcpfeed.Dispatcher
	reaper     *ssrc.Reaper

	promServer *http.Server
	rtpConns   []net.PacketConn
	rtcpConns  []net.PacketConn

	running  atomic.Bool
	started  core.Fuse
	doneChan core.Fuse
}

func NewRelayServer(conf *config.Config, metrics *prometheus.Metrics, gatherer prom.Gatherer, l logger.Logger) *RelayServer {
	if l == nil {
		l = logger.GetLogger()
	}

	var observer ssrc.Observer = ssrc.NopObserver{}
	if metrics != nil {
		observer = metrics
	}

	hash := ssrc.NewCallHash(conf.EntryCallParams(), observer, l.WithName("ssrc"))
	stats := ssrc.NewStats(ssrc.StatsParams{
		Hash:     hash,
		Observer: observer,
		Logger:   l.WithName("stats"),
	})

	s := &RelayServer{
		config:     conf,
		logger:     l,
		metrics:    metrics,
		hash:       hash,
		stats:      stats,
		feeder:     rtcpfeed.NewFeeder(stats, l.WithName("feeder")),
		dispatcher: rtcpfeed.NewDispatcher(conf.Ingest.Workers),
		reaper: ssrc.NewReaper(hash, ssrc.ReaperParams{
			Interval:    conf.Reaper.Interval,
			IdleTimeout: conf.Reaper.IdleTimeout,
			Logger:      l.WithName("reaper"),
		}),
	}

	if conf.PrometheusPort != 0 && gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: mux,
		}
	}
	return s
}

func (s *RelayServer) IsRunning() bool {
	return s.running.Load()
}

func (s *RelayServer) Stats() *ssrc.Stats {
	return s.stats
}

func (s *RelayServer) Hash() *ssrc.Hash[*ssrc.EntryCall] {
	return s.hash
}

// Started is closed once every socket is bound.
func (s *RelayServer) Started() <-chan struct{} {
	return s.started.Watch()
}

// RTPAddrs and RTCPAddrs return the bound socket addresses, valid after
// Started.
func (s *RelayServer) RTPAddrs() []net.Addr {
	return localAddrs(s.rtpConns)
}

func (s *RelayServer) RTCPAddrs() []net.Addr {
	return localAddrs(s.rtcpConns)
}

func localAddrs(conns []net.PacketConn) []net.Addr {
	out := make([]net.Addr, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.LocalAddr())
	}
	return out
}

// Start binds the sockets and serves until Stop is called.
func (s *RelayServer) Start() error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}

	if err := s.listen(); err != nil {
		s.closeConns()
		s.running.Store(false)
		return err
	}

	var promLn net.Listener
	if s.promServer != nil {
		// ensure we could listen
		ln, err := net.Listen("tcp", s.promServer.Addr)
		if err != nil {
			s.closeConns()
			s.running.Store(false)
			return err
		}
		promLn = ln
	}

	s.reaper.Start()

	eg := &errgroup.Group{}
	for _, conn := range s.rtpConns {
		conn := conn
		eg.Go(func() error { return s.readRTP(conn) })
	}
	for _, conn := range s.rtcpConns {
		conn := conn
		eg.Go(func() error { return s.readRTCP(conn) })
	}
	if promLn != nil {
		eg.Go(func() error {
			if err := s.promServer.Serve(promLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if s.config.StatsDumpFile != "" {
		eg.Go(s.dumpStatsWorker)
	}

	s.logger.Infow("starting ssrc relay",
		"nodeID", s.config.NodeID,
		"rtp", s.RTPAddrs(),
		"rtcp", s.RTCPAddrs(),
		"prometheusPort", s.config.PrometheusPort,
	)
	s.started.Break()

	<-s.doneChan.Watch()

	if s.promServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = s.promServer.Shutdown(ctx)
		cancel()
	}
	s.closeConns()
	err := eg.Wait()

	s.reaper.Stop()
	s.dispatcher.Stop()
	s.hash.Free()

	s.logger.Infow("ssrc relay stopped")
	return err
}

func (s *RelayServer) Stop() {
	s.running.Store(false)
	s.doneChan.Break()
}

func (s *RelayServer) listen() error {
	for _, addr := range s.config.ListenAddresses() {
		rtp, err := net.ListenPacket("udp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.RTPPort))))
		if err != nil {
			return errors.Wrap(err, "could not listen for rtp")
		}
		s.rtpConns = append(s.rtpConns, rtp)

		rtcp, err := net.ListenPacket("udp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.RTCPPort))))
		if err != nil {
			return errors.Wrap(err, "could not listen for rtcp")
		}
		s.rtcpConns = append(s.rtcpConns, rtcp)
	}
	return nil
}

func (s *RelayServer) closeConns() {
	for _, c := range s.rtpConns {
		_ = c.Close()
	}
	for _, c := range s.rtcpConns {
		_ = c.Close()
	}
}

// sessionRef ties a stream to the transport address it arrives from.
func sessionRef(addr net.Addr) ssrc.SessionRef {
	ref := ssrc.SessionRef(xxhash.Sum64String(addr.String()))
	if ref == 0 {
		ref = 1
	}
	return ref
}

func (s *RelayServer) readRTP(conn net.PacketConn) error {
	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if s.doneChan.IsBroken() {
				return nil
			}
			return errors.Wrap(err, "rtp read failed")
		}
		receivedAt := time.Now()

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		hdr, payloadSize, err := rtcpfeed.DecodeRTP(pkt)
		if err != nil {
			s.incrementDecodeErrors("rtp")
			s.logger.Debugw("dropping rtp packet", "error", err, "from", addr.String())
			continue
		}
		if s.metrics != nil {
			s.metrics.IncrementPackets(ssrc.Input, 1)
			s.metrics.IncrementBytes(ssrc.Input, uint64(n))
		}

		ref := sessionRef(addr)
		s.dispatcher.Submit(hdr.SSRC, func() {
			if err := s.feeder.ObserveRTP(hdr, payloadSize, ssrc.Input, ref, receivedAt); err != nil {
				s.logger.Warnw("could not account rtp packet", err, "ssrc", hdr.SSRC)
			}
		})
	}
}

func (s *RelayServer) readRTCP(conn net.PacketConn) error {
	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if s.doneChan.IsBroken() {
				return nil
			}
			return errors.Wrap(err, "rtcp read failed")
		}
		receivedAt := time.Now()

		pkts, err := rtcpfeed.Decode(buf[:n])
		if err != nil {
			s.incrementDecodeErrors("rtcp")
			s.logger.Debugw("dropping rtcp packet", "error", err, "from", addr.String())
			continue
		}

		s.dispatcher.Submit(rtcpfeed.SenderSSRC(pkts[0]), func() {
			if err := s.feeder.Ingest(pkts, receivedAt); err != nil {
				s.logger.Warnw("could not ingest rtcp", err, "from", addr.String())
			}
		})
	}
}

func (s *RelayServer) incrementDecodeErrors(protocol string) {
	if s.metrics != nil {
		s.metrics.IncrementDecodeErrors(protocol)
	}
}

func (s *RelayServer) dumpStatsWorker() error {
	ticker := time.NewTicker(config.StatsDumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneChan.Watch():
			return s.writeStatsDump()

		case <-ticker.C:
			if err := s.writeStatsDump(); err != nil {
				s.logger.Warnw("could not write stats dump", err, "file", s.config.StatsDumpFile)
			}
		}
	}
}

func (s *RelayServer) writeStatsDump() error {
	f, err := os.Create(s.config.StatsDumpFile)
	if err != nil {
		return err
	}
	defer f.Close()

	s.DumpStats(f)
	return nil
}
