// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"bytes"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

type events struct {
	sync.Mutex
	acks         []types.ConnectStatus
	disconnected int
	messages     chan types.Message
}

func (e *events) ConnectAck(status types.ConnectStatus) {
	e.Lock()
	defer e.Unlock()
	e.acks = append(e.acks, status)
}

func (e *events) Disconnected() {
	e.Lock()
	defer e.Unlock()
	e.disconnected++
}

func (e *events) MessageArrived(topic string, payload []byte) {
	select {
	case e.messages <- types.Message{Topic: topic, Payload: payload}:
	default:
	}
}

func TestMQTTOffline(t *testing.T) {
	Convey("Given a new MQTT client", t, func(c C) {
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

		mqtt := New(Config{ClientID: "test-offline"}, ctx)

		Convey("It should not be connected", func() {
			So(mqtt.IsConnected(), ShouldBeFalse)
		})

		Convey("Operations should fail with ErrNotConnected", func() {
			So(mqtt.Publish("topic", []byte("hello")), ShouldEqual, backend.ErrNotConnected)
			So(mqtt.Subscribe("topic"), ShouldEqual, backend.ErrNotConnected)
			So(mqtt.Unsubscribe("topic"), ShouldEqual, backend.ErrNotConnected)
			So(mqtt.Ping(), ShouldEqual, backend.ErrNotConnected)
			So(mqtt.Disconnect(), ShouldEqual, backend.ErrNotConnected)
		})

		Convey("When connecting to a port nobody listens on", func() {
			lis, err := net.Listen("tcp", "127.0.0.1:0")
			So(err, ShouldBeNil)
			port := lis.Addr().(*net.TCPAddr).Port
			lis.Close()

			err = mqtt.Connect("127.0.0.1", port, time.Second, 5*time.Second)
			Convey("There should be an error", func() {
				So(err, ShouldNotBeNil)
			})
			Convey("It should not be connected", func() {
				So(mqtt.IsConnected(), ShouldBeFalse)
			})
		})
	})
}

func TestMQTT(t *testing.T) {
	address := os.Getenv("MQTT_ADDRESS")
	if address == "" {
		t.Skip("MQTT_ADDRESS not set")
	}
	host, portString, err := net.SplitHostPort(address)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portString)
	if err != nil {
		t.Fatal(err)
	}

	Convey("Given a new MQTT client", t, func(c C) {
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

		evts := &events{messages: make(chan types.Message, 10)}
		mqtt := New(Config{ClientID: "test-device"}, ctx)
		mqtt.SetEvents(evts)

		Convey("When calling Connect", func() {
			err := mqtt.Connect(host, port, 5*time.Second, 5*time.Second)
			Reset(func() { mqtt.Disconnect() })

			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
				So(mqtt.IsConnected(), ShouldBeTrue)
			})

			Convey("A connect ack should have been sent", func() {
				time.Sleep(50 * time.Millisecond)
				evts.Lock()
				defer evts.Unlock()
				So(evts.acks, ShouldResemble, []types.ConnectStatus{types.ConnectAccepted})
			})

			Convey("Ping should succeed", func() {
				So(mqtt.Ping(), ShouldBeNil)
			})

			Convey("When subscribing to a topic", func() {
				err := mqtt.Subscribe("test-device/echo")
				So(err, ShouldBeNil)

				Convey("When publishing on that topic", func() {
					err := mqtt.Publish("test-device/echo", []byte("1013.25"))
					So(err, ShouldBeNil)

					Convey("The message should arrive", func() {
						select {
						case <-time.After(time.Second):
							So("Timeout Exceeded", ShouldBeFalse)
						case msg := <-evts.messages:
							So(msg.Topic, ShouldEqual, "test-device/echo")
							So(string(msg.Payload), ShouldEqual, "1013.25")
						}
					})
				})

				Convey("Unsubscribing should succeed", func() {
					So(mqtt.Unsubscribe("test-device/echo"), ShouldBeNil)
				})
			})

			Convey("When disconnecting", func() {
				err := mqtt.Disconnect()
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("It should no longer be connected", func() {
					So(mqtt.IsConnected(), ShouldBeFalse)
				})
				Convey("No disconnected event should have been sent", func() {
					evts.Lock()
					defer evts.Unlock()
					So(evts.disconnected, ShouldEqual, 0)
				})
			})
		})
	})
}
