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
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/ssrc-relay/pkg/logger"
)

const (
	DefaultReaperInterval    = 10 * time.Second
	DefaultReaperIdleTimeout = 60 * time.Second
)

type Sweeper interface {
	Sweep(now time.Time, idle time.Duration) int
}

type ReaperParams struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	Logger      logger.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Reaper periodically sweeps idle entries out of a registry.
type Reaper struct {
	params  ReaperParams
	sweeper Sweeper

	stop core.Fuse
	done core.Fuse
}

func NewReaper(sweeper Sweeper, params ReaperParams) *Reaper {
	if params.Interval <= 0 {
		params.Interval = DefaultReaperInterval
	}
	if params.IdleTimeout <= 0 {
		params.IdleTimeout = DefaultReaperIdleTimeout
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Reaper{
		params:  params,
		sweeper: sweeper,
	}
}

func (r *Reaper) Start() {
	go r.worker()
}

// Stop ends the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stop.Break()
	<-r.done.Watch()
}

// SweepNow runs a single sweep and returns the number of entries removed.
func (r *Reaper) SweepNow() int {
	return r.sweeper.Sweep(r.params.Now(), r.params.IdleTimeout)
}

func (r *Reaper) worker() {
	defer r.done.Break()

	ticker := time.NewTicker(r.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop.Watch():
			return

		case <-ticker.C:
			if n := r.SweepNow(); n > 0 {
				r.params.Logger.Debugw("reaped idle entries", "count", n)
			}
		}
	}
}
