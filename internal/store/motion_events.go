package store

import (
	"context"
	"encoding/json"
	"time"
)

// MotionEventType mirrors the spec's MotionEvent.eventType enum.
type MotionEventType string

const (
	EventDetected               MotionEventType = "detected"
	EventDebounced              MotionEventType = "debounced"
	EventQuietHoursSuppressed   MotionEventType = "quiet-hours-suppressed"
	EventDisabledSuppressed     MotionEventType = "disabled-suppressed"
)

// MotionEvent is one append-only audit row. Every motion delivered to the
// orchestrator produces exactly one of these, regardless of admission
// outcome (spec §8 property 3).
type MotionEvent struct {
	EventID     string
	SensorID    string
	UserID      string
	SessionID   string // empty when suppressed before a session exists
	OccurredAt  time.Time
	EventType   MotionEventType
	ActionTaken string
	Metadata    json.RawMessage
}

// InsertMotionEvent appends one audit row. Never rolled back by downstream
// failures — spec §7: "observability of we saw motion but couldn't play is
// explicitly preferred over we saw nothing."
func (db *DB) InsertMotionEvent(ctx context.Context, e *MotionEvent, ttl time.Duration) error {
	var sessionID *string
	if e.SessionID != "" {
		sessionID = &e.SessionID
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO motion_events (
			event_id, sensor_id, user_id, session_id, occurred_at,
			event_type, action_taken, metadata, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8, $5 + $9::interval)
	`,
		e.EventID, e.SensorID, e.UserID, sessionID, e.OccurredAt,
		string(e.EventType), e.ActionTaken, e.Metadata, ttl.String(),
	)
	return err
}

// PurgeExpiredMotionEvents deletes audit rows past their retention
// horizon.
func (db *DB) PurgeExpiredMotionEvents(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM motion_events WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
