// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package sampling limits how often sensor readings are reported.
//
// A reading is reported only when its calibrated value moved at least Delta
// away from the last reported value AND at least MinInterval elapsed since the
// last report. Either condition alone is not enough.
package sampling

import (
	"math"
	"time"
)

// Config for the Gate
type Config struct {
	// Delta is the minimum change of the adjusted value
	Delta float64
	// MinInterval is the minimum time between two reports
	MinInterval time.Duration
}

// DefaultConfig returns the default Gate configuration
func DefaultConfig() Config {
	return Config{
		Delta:       1,
		MinInterval: 5 * time.Second,
	}
}

// NewGate returns a new Gate. The last reported value starts at 0 and the
// last report time at the zero time.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Gate decides which readings are reported. It is not safe for concurrent
// use; readings are expected to come from a single producer.
type Gate struct {
	config Config

	lastValue      float64
	lastReportedAt time.Time
}

// ShouldReport applies the calibration offset to the raw reading and reports
// whether the result should be published. When it should, the gate records
// the adjusted value and time as the last report.
func (g *Gate) ShouldReport(raw, offset float64, now time.Time) (accept bool, adjusted float64) {
	adjusted = raw + offset
	if math.Abs(adjusted-g.lastValue) < g.config.Delta {
		return false, adjusted
	}
	if now.Sub(g.lastReportedAt) < g.config.MinInterval {
		return false, adjusted
	}
	g.lastValue = adjusted
	g.lastReportedAt = now
	return true, adjusted
}

// Last returns the last reported value and when it was reported
func (g *Gate) Last() (value float64, at time.Time) {
	return g.lastValue, g.lastReportedAt
}
