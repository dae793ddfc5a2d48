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

package rtcpfeed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestDispatcherOrdering(t *testing.T) {
	d := NewDispatcher(4)

	var (
		lock  sync.Mutex
		order []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, d.Submit(7, func() {
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
		}))
	}
	d.Stop()

	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(0)

	var ran atomic.Int32
	for key := uint32(0); key < 16; key++ {
		d.Submit(key, func() { ran.Inc() })
	}
	d.Stop()
	require.Equal(t, int32(16), ran.Load())
	require.Zero(t, d.WaitingQueueSize())

	require.False(t, d.Submit(1, func() { ran.Inc() }))
	d.Stop()
	require.Equal(t, int32(16), ran.Load())
}
