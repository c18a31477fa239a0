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

package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type indexMetrics struct {
	chunksQueried prometheus.Counter
	chunksFailed  prometheus.Counter
	liveEvents    prometheus.Counter
	metaErrors    prometheus.Counter
	entries       prometheus.Gauge
}

func newIndexMetrics(promRegistry prometheus.Registerer) *indexMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &indexMetrics{
		chunksQueried: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "privabuild_index_backfill_chunks_total",
			Help: "backfill chunk queries issued",
		}),
		chunksFailed: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "privabuild_index_backfill_chunks_failed_total",
			Help: "backfill chunk queries that failed and were skipped",
		}),
		liveEvents: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "privabuild_index_live_events_total",
			Help: "creation events received from the live subscription",
		}),
		metaErrors: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "privabuild_index_meta_errors_total",
			Help: "metadata lookups that failed and fell back to event values",
		}),
		entries: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "privabuild_index_entries",
			Help: "submissions currently indexed",
		}),
	}
}
