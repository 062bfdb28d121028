// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"testing"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/connectivity"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewProbe(t *testing.T) {
	Convey("Given connectivity probe options", t, func(c C) {
		Convey("The default should probe the interfaces", func() {
			probe, err := newProbe("")
			So(err, ShouldBeNil)
			So(probe, ShouldHaveSameTypeAs, connectivity.InterfaceProbe{})
		})
		Convey("A tcp address should be dialed", func() {
			probe, err := newProbe("tcp://broker.example:1883")
			So(err, ShouldBeNil)
			So(probe, ShouldResemble, connectivity.DialProbe{Address: "broker.example:1883"})
		})
		Convey("Unknown probes should fail", func() {
			_, err := newProbe("icmp://broker.example")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestAMQPBroker(t *testing.T) {
	Convey("Given AMQP broker options", t, func(c C) {
		parts := amqpRegexp.FindStringSubmatch("guest:guest@localhost:5672")
		So(parts, ShouldResemble, []string{"guest:guest@localhost:5672", "guest", "guest", "localhost:5672"})
		parts = amqpRegexp.FindStringSubmatch("localhost:5672")
		So(parts[3], ShouldEqual, "localhost:5672")
		So(amqpRegexp.FindStringSubmatch("not a broker"), ShouldBeNil)
	})
}
