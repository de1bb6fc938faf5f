// Package broker carries camera events to an external publish/subscribe
// system. MQTT and NATS are supported, and NATS can run embedded in the
// camnode process.
//
// # Topics
//
// Events are published on "<prefix>/<camera_id>/<event>", for example
//
//	camera/1b4e28ba-2fa1-11d2-883f-0016d3cca427/exposure_changed
//
// NATS subjects use dots instead of slashes:
//
//	camera.1b4e28ba-2fa1-11d2-883f-0016d3cca427.exposure_changed
//
// # Payload
//
//	{
//	  "timestamp": "2024-01-01T12:00:00.000Z",
//	  "camera_id": "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
//	  "event": "exposure_changed",
//	  "data": {"auto_exposure": false, "exposure_time": 5000}
//	}
//
// # Debugging
//
// Watch every event with the mosquitto or nats CLIs:
//
//	mosquitto_sub -t 'camera/#' -v
//	nats sub 'camera.>' -s nats://localhost:4222
//
// Publishing is fire-and-forget. When the broker is unreachable Publish
// returns ErrNotConnected and capture continues unaffected.
package broker
