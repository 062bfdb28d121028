// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package deduplicate

import (
	"testing"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeduplicate(t *testing.T) {
	Convey("Given a new Deduplicate", t, func(c C) {
		i := NewDeduplicate(time.Second)
		now := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
		i.now = func() time.Time { return now }

		up := &types.Command{Action: types.ActionPublish, Topic: "/sensor/pressure", Message: "1013.25"}
		upDup := &types.Command{Action: types.ActionPublish, Topic: "/sensor/pressure", Message: "1013.25"}
		nextUp := &types.Command{Action: types.ActionPublish, Topic: "/sensor/pressure", Message: "1014.5"}

		Convey("When sending a PUBLISH command", func() {
			Reset(func() {
				i.HandleStop(middleware.NewContext(), &types.Command{Action: types.ActionStop})
			})
			err := i.HandlePublish(middleware.NewContext(), up)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("When sending a duplicate of that command", func() {
				err := i.HandlePublish(middleware.NewContext(), upDup)
				Convey("There should be an error", func() {
					So(err, ShouldEqual, ErrDuplicateMessage)
				})
			})
			Convey("When sending a duplicate after the window", func() {
				now = now.Add(2 * time.Second)
				err := i.HandlePublish(middleware.NewContext(), upDup)
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
			Convey("When sending another message", func() {
				err := i.HandlePublish(middleware.NewContext(), nextUp)
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
			Convey("When sending a STOP command", func() {
				i.HandleStop(middleware.NewContext(), &types.Command{Action: types.ActionStop})
				Convey("The duplicate should be accepted", func() {
					So(i.HandlePublish(middleware.NewContext(), upDup), ShouldBeNil)
				})
			})
		})
	})
}
