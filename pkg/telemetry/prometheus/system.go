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
)

func initSystemStats(constLabels prometheus.Labels, reg prometheus.Registerer) {
	sampler := &cpuSampler{}

	cpuLoad := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   relayNamespace,
		Subsystem:   "node",
		Name:        "cpu_load",
		ConstLabels: constLabels,
		Help:        "Fraction of CPU time busy since the previous scrape.",
	}, func() float64 {
		load, err := sampler.load()
		if err != nil {
			return 0
		}
		return load
	})

	load1 := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   relayNamespace,
		Subsystem:   "node",
		Name:        "load_avg_1m",
		ConstLabels: constLabels,
	}, func() float64 {
		v, err := loadAvg1()
		if err != nil {
			return 0
		}
		return v
	})

	reg.MustRegister(cpuLoad)
	reg.MustRegister(load1)
}
