// Copyright 2026 Blink Labs Software
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

package privabuild

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type pipelineMetrics struct {
	sealAttempts     *prometheus.CounterVec
	discloseAttempts *prometheus.CounterVec
	bytesUploaded    prometheus.Counter
	sealDuration     prometheus.Histogram
	discloseDuration prometheus.Histogram
	activeSessions   prometheus.Gauge
}

func newPipelineMetrics(promRegistry prometheus.Registerer) *pipelineMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &pipelineMetrics{
		sealAttempts: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privabuild_seal_attempts_total",
				Help: "sealing pipeline attempts by outcome",
			},
			[]string{"outcome"},
		),
		discloseAttempts: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privabuild_disclose_attempts_total",
				Help: "disclosure pipeline attempts by outcome",
			},
			[]string{"outcome"},
		),
		bytesUploaded: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "privabuild_storage_uploaded_bytes_total",
			Help: "sealed bytes uploaded to the pinning service",
		}),
		sealDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privabuild_seal_duration_seconds",
			Help:    "time spent in the sealing pipeline",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		discloseDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privabuild_disclose_duration_seconds",
			Help:    "time spent in the disclosure pipeline",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		activeSessions: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "privabuild_disclose_sessions_active",
			Help: "disclosure sessions currently in flight",
		}),
	}
}
