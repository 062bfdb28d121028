// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mqtt implements backend.Client on top of the Eclipse Paho MQTT
// client.
//
// The client uses a clean session and never reconnects by itself: when the
// connection is lost, Events.Disconnected is sent and it is up to the session
// to decide when to connect again.
//
// Messages on subscribed topics are delivered to Events.MessageArrived.
//
// Paho sends PINGREQ frames on its own based on the keepalive interval given
// to Connect. Ping additionally publishes an empty heartbeat message on the
// "[client-id]/keepalive" topic, which lets subscribers see that the device is
// alive.
package mqtt
