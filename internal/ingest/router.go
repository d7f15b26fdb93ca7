package ingest

import "strings"

// Route describes a parsed device-facing MQTT topic (spec §4.1, §6.1).
type Route struct {
	Kind     string // "motion", "status", "register"
	SensorID string
}

// ParseTopic maps an inbound topic string to a Route, extracting
// sensorId from the path rather than trusting the payload body (spec
// §4.1: "never trusts a sensorId in the payload if it disagrees").
// Returns nil for anything that isn't a recognized publish topic.
//
//	sensors/{sensorId}/motion   → motion
//	sensors/{sensorId}/status   → status
//	sensors/{sensorId}/register → register
func ParseTopic(topic string) *Route {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "sensors" || parts[1] == "" {
		return nil
	}

	switch parts[2] {
	case "motion", "status", "register":
		return &Route{Kind: parts[2], SensorID: parts[1]}
	default:
		return nil
	}
}
