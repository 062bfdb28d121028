// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sensor

import "github.com/prometheus/client_golang/prometheus"

var samplesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "telemetry",
		Name:      "samples_total",
		Help:      "Total number of sensor readings.",
	}, []string{"result"},
)

func init() {
	prometheus.MustRegister(samplesCounter)
}
