// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package keepalive

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScheduler(t *testing.T) {
	Convey("Given a new Scheduler", t, func(c C) {
		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		s := New(ctx)
		Reset(func() { s.Stop() })

		Convey("It should not be active", func() {
			So(s.Active(), ShouldBeFalse)
		})

		Convey("Stop should be a no-op", func() {
			s.Stop()
			So(s.Active(), ShouldBeFalse)
		})

		Convey("When starting a timer", func() {
			var fired int32
			s.Start(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

			Convey("It should be active", func() {
				So(s.Active(), ShouldBeTrue)
			})

			Convey("It should not fire immediately", func() {
				time.Sleep(5 * time.Millisecond)
				So(atomic.LoadInt32(&fired), ShouldEqual, 0)
			})

			Convey("It should fire repeatedly", func() {
				time.Sleep(110 * time.Millisecond)
				So(atomic.LoadInt32(&fired), ShouldBeGreaterThanOrEqualTo, 3)
			})

			Convey("When stopping the timer", func() {
				time.Sleep(30 * time.Millisecond)
				s.Stop()
				after := atomic.LoadInt32(&fired)

				Convey("It should no longer be active", func() {
					So(s.Active(), ShouldBeFalse)
				})

				Convey("It should not fire anymore", func() {
					time.Sleep(60 * time.Millisecond)
					So(atomic.LoadInt32(&fired), ShouldEqual, after)
				})
			})

			Convey("When starting it again with another callback", func() {
				var restarted int32
				s.Start(20*time.Millisecond, func() { atomic.AddInt32(&restarted, 1) })
				time.Sleep(70 * time.Millisecond)

				Convey("Only the new callback should fire", func() {
					So(atomic.LoadInt32(&fired), ShouldEqual, 0)
					So(atomic.LoadInt32(&restarted), ShouldBeGreaterThanOrEqualTo, 2)
				})
			})
		})
	})
}
