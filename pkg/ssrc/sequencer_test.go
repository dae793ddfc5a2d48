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
)

func TestSequencer(t *testing.T) {
	t.Run("wrap around", func(t *testing.T) {
		var s sequencer
		now := time.Now()
		for _, sn := range []uint16{65534, 65535, 0, 1} {
			lost, dup := s.update(sn, 0, now, 8000)
			require.Zero(t, lost)
			require.False(t, dup)
		}
		require.Equal(t, uint64(1), s.cycles)
		require.Equal(t, uint64(1<<16|1), s.extendedMax())
		require.Equal(t, uint64(4), s.expected())
	})

	t.Run("loss and recovery", func(t *testing.T) {
		var s sequencer
		now := time.Now()
		s.update(10, 0, now, 8000)
		lost, _ := s.update(15, 0, now, 8000)
		require.Equal(t, uint64(4), lost)

		lost, dup := s.update(12, 0, now, 8000)
		require.False(t, dup)
		require.Equal(t, uint64(3), lost)

		lost, dup = s.update(12, 0, now, 8000)
		require.True(t, dup)
		require.Equal(t, uint64(3), lost)
	})

	t.Run("large jump", func(t *testing.T) {
		var s sequencer
		now := time.Now()
		s.update(0, 0, now, 8000)
		lost, _ := s.update(1000, 0, now, 8000)
		require.Equal(t, uint64(999), lost)
		require.Equal(t, uint64(1), s.seen)

		// too old to tell apart from a duplicate, counted as received
		_, dup := s.update(0, 0, now, 8000)
		require.False(t, dup)
	})

	t.Run("jitter", func(t *testing.T) {
		var s sequencer
		t0 := time.Now()
		s.update(1, 0, t0, 8000)
		s.update(2, 160, t0.Add(20*time.Millisecond), 8000)
		require.Zero(t, s.interarrivalJitter())

		// 40ms late
		s.update(3, 320, t0.Add(80*time.Millisecond), 8000)
		require.Equal(t, uint32(20), s.interarrivalJitter())
	})

	t.Run("arrival before first", func(t *testing.T) {
		var s sequencer
		t0 := time.Now()
		s.update(1, 0, t0, 8000)
		require.Zero(t, s.arrival(t0.Add(-time.Second), 8000))
	})
}
