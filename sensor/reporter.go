// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sensor

import (
	"strconv"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/command"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/sampling"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
)

// DefaultTopic readings are published on
const DefaultTopic = "/sensor/pressure"

// NewReporter returns a Reporter that publishes accepted readings through the
// dispatcher. The calibration may be nil.
func NewReporter(gate *sampling.Gate, calibration *Calibration, dispatcher command.Dispatcher, topic string, ctx log.Interface) *Reporter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Reporter{
		ctx:         ctx.WithField("Component", "Reporter").WithField("Topic", topic),
		gate:        gate,
		calibration: calibration,
		dispatcher:  dispatcher,
		topic:       topic,
		now:         time.Now,
	}
}

// Reporter publishes sensor readings that pass the sampling gate
type Reporter struct {
	ctx         log.Interface
	gate        *sampling.Gate
	calibration *Calibration
	dispatcher  command.Dispatcher
	topic       string
	now         func() time.Time
}

// Report a raw reading. It returns true if the reading was published.
func (r *Reporter) Report(raw float64) (bool, error) {
	accept, adjusted := r.gate.ShouldReport(raw, r.calibration.Offset(), r.now())
	if !accept {
		samplesCounter.WithLabelValues("rejected").Inc()
		return false, nil
	}
	samplesCounter.WithLabelValues("accepted").Inc()
	err := r.dispatcher.Dispatch(&types.Command{
		Action:  types.ActionPublish,
		Topic:   r.topic,
		Message: strconv.FormatFloat(adjusted, 'f', -1, 64),
	})
	if err != nil {
		return false, err
	}
	r.ctx.WithField("Value", adjusted).Debug("Reported reading")
	return true, nil
}

// Run reports readings until the channel is closed or done is closed
func (r *Reporter) Run(readings <-chan float64, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw, ok := <-readings:
			if !ok {
				return
			}
			if _, err := r.Report(raw); err != nil {
				r.ctx.WithError(err).Warn("Could not report reading")
			}
		}
	}
}
