// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package connectivity

import (
	"bytes"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMonitor(t *testing.T) {
	Convey("Given a new Monitor on a manual probe", t, func(c C) {
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

		probe := NewManual(true)
		m := New(probe, 5*time.Millisecond, ctx)
		Reset(func() { m.Unregister() })

		Convey("It should report the probe value", func() {
			So(m.Online(), ShouldBeTrue)
			probe.Set(false)
			So(m.Online(), ShouldBeFalse)
		})

		Convey("Unregister should be a no-op", func() {
			m.Unregister()
			So(m.Registered(), ShouldBeFalse)
		})

		Convey("When registering", func() {
			var lost int32
			m.Register(func() { atomic.AddInt32(&lost, 1) })

			Convey("It should be registered", func() {
				So(m.Registered(), ShouldBeTrue)
			})

			Convey("It should not fire while online", func() {
				time.Sleep(30 * time.Millisecond)
				So(atomic.LoadInt32(&lost), ShouldEqual, 0)
			})

			Convey("When the network goes away", func() {
				probe.Set(false)
				time.Sleep(30 * time.Millisecond)

				Convey("It should fire once", func() {
					So(atomic.LoadInt32(&lost), ShouldEqual, 1)
				})

				Convey("It should fire only once, even after flapping", func() {
					probe.Set(true)
					time.Sleep(20 * time.Millisecond)
					probe.Set(false)
					time.Sleep(20 * time.Millisecond)
					So(atomic.LoadInt32(&lost), ShouldEqual, 1)
				})

				Convey("It should remain registered until unregistered", func() {
					So(m.Registered(), ShouldBeTrue)
					m.Unregister()
					So(m.Registered(), ShouldBeFalse)
				})
			})

			Convey("When unregistering before the network goes away", func() {
				m.Unregister()
				probe.Set(false)
				time.Sleep(30 * time.Millisecond)

				Convey("It should not fire", func() {
					So(atomic.LoadInt32(&lost), ShouldEqual, 0)
				})
			})

			Convey("When registering again", func() {
				var replaced int32
				m.Register(func() { atomic.AddInt32(&replaced, 1) })
				probe.Set(false)
				time.Sleep(30 * time.Millisecond)

				Convey("Only the new registration should fire", func() {
					So(atomic.LoadInt32(&lost), ShouldEqual, 0)
					So(atomic.LoadInt32(&replaced), ShouldEqual, 1)
				})
			})
		})
	})
}

type countingProbe struct {
	probes int32
	online int32
}

func (p *countingProbe) Online() bool {
	atomic.AddInt32(&p.probes, 1)
	return atomic.LoadInt32(&p.online) == 1
}

func TestMonitorCache(t *testing.T) {
	Convey("Given a Monitor that caches probe results for a second", t, func() {
		probe := &countingProbe{online: 1}
		m := New(probe, time.Hour, log.Log)
		now := time.Date(2017, 6, 23, 12, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }
		m.CacheFor(time.Second)

		Convey("Repeated calls within a second should probe once", func() {
			for i := 0; i < 5; i++ {
				So(m.Online(), ShouldBeTrue)
			}
			So(atomic.LoadInt32(&probe.probes), ShouldEqual, 1)
		})

		Convey("A call after a second should probe again", func() {
			So(m.Online(), ShouldBeTrue)
			atomic.StoreInt32(&probe.online, 0)
			So(m.Online(), ShouldBeTrue)
			now = now.Add(time.Second)
			So(m.Online(), ShouldBeFalse)
			So(atomic.LoadInt32(&probe.probes), ShouldEqual, 2)
		})

		Convey("Disabling the cache should probe every time", func() {
			m.CacheFor(0)
			m.Online()
			m.Online()
			So(atomic.LoadInt32(&probe.probes), ShouldEqual, 2)
		})
	})
}

func TestDialProbe(t *testing.T) {
	Convey("Given a listening TCP socket", t, func() {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		Reset(func() { lis.Close() })

		Convey("A DialProbe to it should be online", func() {
			So(DialProbe{Address: lis.Addr().String()}.Online(), ShouldBeTrue)
		})

		Convey("When the socket is closed", func() {
			addr := lis.Addr().String()
			lis.Close()
			Convey("A DialProbe to it should be offline", func() {
				So(DialProbe{Address: addr, Timeout: 100 * time.Millisecond}.Online(), ShouldBeFalse)
			})
		})
	})
}
