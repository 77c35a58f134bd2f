/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var METRICS_NAMESPACE = "tokengate"
var METRICS_SUBSYSTEM = "coordinator"

var GrantsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: METRICS_NAMESPACE,
	Subsystem: METRICS_SUBSYSTEM,
	Name:      "grants_total",
	Help:      "Grant attempts by outcome",
}, []string{"outcome"})

var RevocationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: METRICS_NAMESPACE,
	Subsystem: METRICS_SUBSYSTEM,
	Name:      "revocations_total",
	Help:      "Revocation attempts by outcome",
}, []string{"outcome"})

var ChecksCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: METRICS_NAMESPACE,
	Subsystem: METRICS_SUBSYSTEM,
	Name:      "validity_checks_total",
	Help:      "Token validity checks served",
})

var QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: METRICS_NAMESPACE,
	Subsystem: METRICS_SUBSYSTEM,
	Name:      "queue_depth",
	Help:      "Pending access requests in the queue",
})

var ConfirmationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: METRICS_NAMESPACE,
	Subsystem: METRICS_SUBSYSTEM,
	Name:      "confirmation_seconds",
	Help:      "Time from submission to mined receipt",
	Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0, 120.0},
})

func Init() {
	_ = prometheus.Register(GrantsCounter)
	_ = prometheus.Register(RevocationsCounter)
	_ = prometheus.Register(ChecksCounter)
	_ = prometheus.Register(QueueDepthGauge)
	_ = prometheus.Register(ConfirmationHistogram)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
