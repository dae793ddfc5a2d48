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

	"github.com/gammazero/workerpool"
)

const DefaultWorkers = 4

// Dispatcher runs ingest tasks on a fixed set of single worker pools. Tasks
// submitted with the same key run one at a time in submission order, which
// keeps reports for one SSRC in arrival order.
type Dispatcher struct {
	lock    sync.RWMutex
	shards  []*workerpool.WorkerPool
	stopped bool
}

func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	d := &Dispatcher{
		shards: make([]*workerpool.WorkerPool, workers),
	}
	for i := range d.shards {
		d.shards[i] = workerpool.New(1)
	}
	return d
}

// Submit queues task on the shard owning key. Tasks submitted after Stop are
// dropped and Submit reports false.
func (d *Dispatcher) Submit(key uint32, task func()) bool {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.stopped {
		return false
	}
	d.shards[key%uint32(len(d.shards))].Submit(task)
	return true
}

// WaitingQueueSize is the number of tasks queued across all shards.
func (d *Dispatcher) WaitingQueueSize() int {
	d.lock.RLock()
	defer d.lock.RUnlock()

	n := 0
	for _, wp := range d.shards {
		n += wp.WaitingQueueSize()
	}
	return n
}

// Stop runs every queued task to completion and shuts the workers down.
func (d *Dispatcher) Stop() {
	d.lock.Lock()
	if d.stopped {
		d.lock.Unlock()
		return
	}
	d.stopped = true
	d.lock.Unlock()

	for _, wp := range d.shards {
		wp.StopWait()
	}
}
