// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "DocDB",
			Subsystem: "server",
			Name:      "request_total",
			Help:      "requests handled, by operation and response status",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "DocDB",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "request handling latency",
		},
		[]string{"operation"},
	)

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "DocDB",
			Subsystem: "server",
			Name:      "connected_clients",
			Help:      "currently connected clients",
		},
	)
)

func init() {
	Registry.MustRegister(
		RequestTotal,
		RequestDuration,
		ConnectedClients,
	)
}
