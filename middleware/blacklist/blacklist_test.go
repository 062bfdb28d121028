// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package blacklist

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	. "github.com/smartystreets/goconvey/convey"
)

const exampleBlacklist = `
- topic: admin/#
- topic: +/firmware
`

func TestMatch(t *testing.T) {
	Convey("Given MQTT topic filters", t, func(c C) {
		So(Match("a/b", "a/b"), ShouldBeTrue)
		So(Match("a/b", "a/c"), ShouldBeFalse)
		So(Match("a/+", "a/b"), ShouldBeTrue)
		So(Match("a/+", "a/b/c"), ShouldBeFalse)
		So(Match("a/#", "a/b/c"), ShouldBeTrue)
		So(Match("a/#", "a"), ShouldBeFalse)
		So(Match("#", "anything/at/all"), ShouldBeTrue)
		So(Match("+/firmware", "device/firmware"), ShouldBeTrue)
		So(Match("a/b/c", "a/b"), ShouldBeFalse)
	})
}

func TestBlacklist(t *testing.T) {
	file, err := ioutil.TempFile("", "blacklist")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(exampleBlacklist); err != nil {
		t.Fatal(err)
	}
	file.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blacklist.yml" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, exampleBlacklist)
	}))
	defer server.Close()

	testExample := func(list string) *Blacklist {
		b, err := NewBlacklist(list)
		Convey("Then there should be no error", func() { So(err, ShouldBeNil) })
		Reset(func() { b.Close() })
		Convey("Then the blacklist should contain 2 items", func() {
			So(b.lists[list], ShouldHaveLength, 2)
		})
		Convey("When publishing on a blacklisted topic", func() {
			err := b.HandlePublish(middleware.NewContext(), &types.Command{Action: types.ActionPublish, Topic: "admin/reboot"})
			Convey("Then the BlacklistedTopic error should be returned", func() { So(err, ShouldEqual, ErrBlacklistedTopic) })
		})
		Convey("When subscribing to a blacklisted topic", func() {
			err := b.HandleSubscribe(middleware.NewContext(), &types.Command{Action: types.ActionSubscribe, Topic: "device/firmware"})
			Convey("Then the BlacklistedTopic error should be returned", func() { So(err, ShouldEqual, ErrBlacklistedTopic) })
		})
		Convey("When publishing on another topic", func() {
			err := b.HandlePublish(middleware.NewContext(), &types.Command{Action: types.ActionPublish, Topic: "/sensor/pressure"})
			Convey("Then there should be no error", func() { So(err, ShouldBeNil) })
		})
		return b
	}

	Convey("When creating a new Blacklist using the example file", t, func(c C) {
		b := testExample(file.Name())

		Convey("When the file is changed", func() {
			err := ioutil.WriteFile(file.Name(), []byte("- topic: /sensor/#\n"), 0644)
			So(err, ShouldBeNil)
			time.Sleep(100 * time.Millisecond)
			Reset(func() { ioutil.WriteFile(file.Name(), []byte(exampleBlacklist), 0644) })

			Convey("Then the blacklist should be reloaded", func() {
				err := b.HandlePublish(middleware.NewContext(), &types.Command{Action: types.ActionPublish, Topic: "/sensor/pressure"})
				So(err, ShouldEqual, ErrBlacklistedTopic)
			})
		})
	})

	Convey("When creating a new Blacklist using the example file on an HTTP server", t, func(c C) {
		testExample(server.URL + "/blacklist.yml")
	})

	Convey("When creating a new Blacklist with a missing remote list", t, func(c C) {
		b, err := NewBlacklist(server.URL + "/missing.yml")
		So(err, ShouldBeNil)
		Reset(func() { b.Close() })
		Convey("Then fetching should fail", func() {
			So(b.FetchRemotes(), ShouldNotBeNil)
		})
		Convey("Then nothing should be blocked", func() {
			err := b.HandlePublish(middleware.NewContext(), &types.Command{Action: types.ActionPublish, Topic: "admin/reboot"})
			So(err, ShouldBeNil)
		})
	})
}
