// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/httpsyslog/ingestd/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfoGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	activeConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "source_active_connections",
			Help:      "Currently open connections per configured source",
		},
		[]string{"name"},
	)
)

func (a *Agent) recordMetrics() {
	uptime.Set(float64(time.Now().Unix() - common.Started()))
	buildInfoGauge.WithLabelValues(a.buildInfo.Version, a.buildInfo.GitHash, a.buildInfo.Time).Inc()
	for _, d := range a.drivers {
		activeConnections.WithLabelValues(d.Name()).Set(float64(d.ActiveConnections()))
	}
}
