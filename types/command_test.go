// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseAction(t *testing.T) {
	Convey("When parsing action names", t, func() {
		Convey("Then the plain names should be recognized", func() {
			action, err := ParseAction("PUBLISH")
			So(err, ShouldBeNil)
			So(action, ShouldEqual, ActionPublish)
		})
		Convey("Then the legacy names should be recognized", func() {
			action, err := ParseAction("RECONNECT_MQTT")
			So(err, ShouldBeNil)
			So(action, ShouldEqual, ActionReconnect)
		})
		Convey("Then names should be case-insensitive", func() {
			action, err := ParseAction(" keepalive ")
			So(err, ShouldBeNil)
			So(action, ShouldEqual, ActionKeepAlive)
		})
		Convey("Then unknown names should return an error", func() {
			_, err := ParseAction("EXPLODE")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestState(t *testing.T) {
	Convey("The session states should have readable names", t, func() {
		So(Disconnected.String(), ShouldEqual, "DISCONNECTED")
		So(Connecting.String(), ShouldEqual, "CONNECTING")
		So(Connected.String(), ShouldEqual, "CONNECTED")
		So(Disconnecting.String(), ShouldEqual, "DISCONNECTING")
		So(State(42).String(), ShouldEqual, "State(42)")
	})
}
