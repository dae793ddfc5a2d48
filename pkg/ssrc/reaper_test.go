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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/ssrc-relay/pkg/logger"
)

type countingSweeper struct {
	calls atomic.Int32
	idle  atomic.Duration
}

func (s *countingSweeper) Sweep(_ time.Time, idle time.Duration) int {
	s.calls.Inc()
	s.idle.Store(idle)
	return 1
}

func TestReaper(t *testing.T) {
	sweeper := &countingSweeper{}
	r := NewReaper(sweeper, ReaperParams{
		Interval:    5 * time.Millisecond,
		IdleTimeout: time.Minute,
		Logger:      logger.NewTestLogger(t),
	})
	r.Start()

	require.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 2
	}, time.Second, time.Millisecond)
	require.Equal(t, time.Minute, sweeper.idle.Load())

	r.Stop()
	calls := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, sweeper.calls.Load())
}

func TestReaperSweepsHash(t *testing.T) {
	clock := newTestClock()
	h := NewCallHash(EntryCallParams{}, nil, logger.NewTestLogger(t))
	h.params.Now = clock.Now

	for _, ssrc := range []uint32{1, 2} {
		e, err := h.Get(ssrc)
		require.NoError(t, err)
		e.Release()
	}

	r := NewReaper(h, ReaperParams{
		IdleTimeout: 10 * time.Second,
		Now:         clock.Now,
	})
	require.Zero(t, r.SweepNow())

	clock.Advance(11 * time.Second)
	require.Equal(t, 2, r.SweepNow())
	require.Zero(t, h.Len())
}
