/*
 * Copyright 2024 The httprecorder authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/version"
)

var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNs,
		Subsystem: metricsSubsystem,
		Name:      "events_total",
		Help:      "Lifecycle events received per stage",
	},
		[]string{"stage"},
	)

	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNs,
		Subsystem: metricsSubsystem,
		Name:      "records_total",
		Help:      "Finished records emitted per table",
	},
		[]string{"table"},
	)

	PendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNs,
		Subsystem: metricsSubsystem,
		Name:      "pending_transactions",
		Help:      "Transactions with unconsumed correlation buffers",
	})

	BodyWaitTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNs,
		Subsystem: metricsSubsystem,
		Name:      "body_wait_timeouts_total",
		Help:      "POST body fragments that did not arrive within budget",
	})

	CaptureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNs,
		Subsystem: metricsSubsystem,
		Name:      "capture_failures_total",
		Help:      "Response body captures that could not be read or hashed",
	})
)

func init() {
	prometheus.MustRegister(version.NewCollector("httprecorder"))
}

const (
	metricsNs        = "httprecorder"
	metricsSubsystem = "instrument"
)
