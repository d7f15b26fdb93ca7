// Package ingest is C1 (Ingress Router) plus the orchestration,
// reaper, warden, and token-cache components that hang off it. Grounded
// on the teacher's internal/ingest package, which carries the same
// router-then-pipeline shape for a different wire format (trunk-recorder
// dashboard topics instead of sensor topics).
package ingest

import (
	"encoding/json"
	"time"
)

// EventType is the tagged-union discriminant carried by every decoded
// device payload.
type EventType string

const (
	EventMotionDetected EventType = "motion_detected"
	EventStatusReport   EventType = "status_report"
	EventRegistration   EventType = "registration"
	EventUnknown        EventType = "unknown"
)

// MotionMetadata is the optional telemetry block on a motion payload
// (spec §6.1).
type MotionMetadata struct {
	BatteryLevel    *int    `json:"batteryLevel,omitempty"`
	SignalStrength  *int    `json:"signalStrength,omitempty"`
	FirmwareVersion *string `json:"firmwareVersion,omitempty"`
	Uptime          *int    `json:"uptime,omitempty"`
	FreeHeap        *int    `json:"freeHeap,omitempty"`
}

// Payload is the decoded form of any device-published message. Only the
// fields matching Type are populated; everything else is one of
// MotionDetected / StatusReport / Registration sitting dormant.
type Payload struct {
	Type EventType

	// motion_detected (sensors/{sensorId}/motion)
	SensorID   string
	OccurredAt time.Time
	Metadata   MotionMetadata

	// status_report (sensors/{sensorId}/status) — informational only
	Status string

	// registration (sensors/{sensorId}/register) — informational only
	RawRegistration json.RawMessage
}

// wireEnvelope is the superset of fields any of the three device
// payload shapes may carry; DecodePayload classifies on the topic kind
// and picks which sub-fields apply.
type wireEnvelope struct {
	Event     string          `json:"event"`
	SensorID  string          `json:"sensorId"`
	Timestamp json.RawMessage `json:"timestamp"`
	Metadata  MotionMetadata  `json:"metadata"`
	Status    string          `json:"status"`
}

// DecodePayload classifies and decodes a raw device message body into a
// tagged Payload. It never trusts the topic-segment sensorId against the
// body's own sensorId field — the caller (Engine.HandleMessage, using the
// Route from ParseTopic) is responsible for that cross-check, per spec §4.1 "never trusts a
// sensorId in the payload if it disagrees".
func DecodePayload(topicKind string, raw []byte) (Payload, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Payload{Type: EventUnknown}, err
	}

	switch topicKind {
	case "motion":
		if env.Event != "motion_detected" {
			return Payload{Type: EventUnknown}, errUnrecognizedEvent(env.Event)
		}
		occurredAt, err := decodeTimestamp(env.Timestamp)
		if err != nil {
			return Payload{Type: EventUnknown}, err
		}
		return Payload{
			Type:       EventMotionDetected,
			SensorID:   env.SensorID,
			OccurredAt: occurredAt,
			Metadata:   env.Metadata,
		}, nil
	case "status":
		return Payload{Type: EventStatusReport, SensorID: env.SensorID, Status: env.Status}, nil
	case "register":
		return Payload{Type: EventRegistration, SensorID: env.SensorID, RawRegistration: raw}, nil
	default:
		return Payload{Type: EventUnknown}, errUnrecognizedTopicKind(topicKind)
	}
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, errMissingTimestamp
	}
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return time.Unix(asInt, 0).UTC(), nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		t, err := time.Parse(time.RFC3339, asString)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	return time.Time{}, errMissingTimestamp
}
