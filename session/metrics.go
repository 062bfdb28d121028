// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import "github.com/prometheus/client_golang/prometheus"

var stateGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ttn",
		Subsystem: "telemetry",
		Name:      "session_state",
		Help:      "State of the session (0: disconnected, 1: connecting, 2: connected, 3: disconnecting).",
	},
)

var operationCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "telemetry",
		Name:      "operations_total",
		Help:      "Total number of session operations handled.",
	}, []string{"operation", "result"},
)

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsKind(err, PreconditionError), IsKind(err, UninitializedError):
		return "ignored"
	}
	return "error"
}

func init() {
	prometheus.MustRegister(stateGauge)
	prometheus.MustRegister(operationCounter)
}
