// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package worker

import "github.com/prometheus/client_golang/prometheus"

var droppedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "telemetry",
		Name:      "worker_dropped_total",
		Help:      "Total number of tasks dropped because the worker queue was full.",
	},
)

func init() {
	prometheus.MustRegister(droppedCounter)
}
