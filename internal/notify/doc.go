// Package notify publishes calendar changes to an MQTT broker so other
// devices in the household (displays, reminders, home automation) can
// follow a user's appointments and meals.
//
// Each change is published as JSON {action, event} to
// <topic_prefix>/<username>/calendar with QoS 1, not retained. The
// connection is managed by autopaho, which reconnects in the
// background; changes observed while disconnected wait in a small
// buffer and are dropped when it fills.
package notify
