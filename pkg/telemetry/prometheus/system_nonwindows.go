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

//go:build !windows

package prometheus

import (
	"sync"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/loadavg"
)

// cpuSampler reports the busy fraction since the previous sample.
type cpuSampler struct {
	lock      sync.Mutex
	lastTotal uint64
	lastIdle  uint64
}

func (s *cpuSampler) load() (float64, error) {
	info, err := cpu.Get()
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	var load float64
	if s.lastTotal > 0 && s.lastTotal < info.Total {
		load = 1 - float64(info.Idle-s.lastIdle)/float64(info.Total-s.lastTotal)
	}
	s.lastTotal = info.Total
	s.lastIdle = info.Idle
	return load, nil
}

func loadAvg1() (float64, error) {
	stats, err := loadavg.Get()
	if err != nil {
		return 0, err
	}
	return stats.Loadavg1, nil
}
