package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// SensorStatus mirrors the spec's Sensor.status enum.
type SensorStatus string

const (
	SensorRegistered SensorStatus = "registered"
	SensorActive     SensorStatus = "active"
	SensorDisabled   SensorStatus = "disabled"
	SensorError      SensorStatus = "error"
)

// QuietHours is a daily recurring suppression window in the sensor's (or
// its owner's) local time, stored as an IANA timezone name rather than a
// UTC offset so it survives DST transitions.
type QuietHours struct {
	StartHHMM string // "HH:MM", 24h
	EndHHMM   string
	Timezone  string // IANA zone name, e.g. "Europe/London"
}

// Sensor is the persisted record for a single physical motion detector.
type Sensor struct {
	SensorID                 string
	UserID                   string
	Enabled                  bool
	MotionDebounceSeconds    int
	InactivityTimeoutSeconds int
	QuietHours               *QuietHours
	PlaybackTargetID         string
	PlaybackContextRef       string
	LastMotionAt             *time.Time
	Status                   SensorStatus
	ThingHandle              string
	CertificateHandle        string
}

// GetSensor loads a sensor by id. Returns pgx.ErrNoRows if absent.
func (db *DB) GetSensor(ctx context.Context, sensorID string) (*Sensor, error) {
	var s Sensor
	var quietStart, quietEnd, quietTZ *string
	var status string
	err := db.Pool.QueryRow(ctx, `
		SELECT sensor_id, user_id, enabled, motion_debounce_seconds,
		       inactivity_timeout_seconds, quiet_start, quiet_end, quiet_timezone,
		       playback_target_id, playback_context_ref, last_motion_at,
		       status, thing_handle, certificate_handle
		FROM sensors WHERE sensor_id = $1
	`, sensorID).Scan(
		&s.SensorID, &s.UserID, &s.Enabled, &s.MotionDebounceSeconds,
		&s.InactivityTimeoutSeconds, &quietStart, &quietEnd, &quietTZ,
		&s.PlaybackTargetID, &s.PlaybackContextRef, &s.LastMotionAt,
		&status, &s.ThingHandle, &s.CertificateHandle,
	)
	if err != nil {
		return nil, err
	}
	s.Status = SensorStatus(status)
	if quietStart != nil && quietEnd != nil && quietTZ != nil {
		s.QuietHours = &QuietHours{StartHHMM: *quietStart, EndHHMM: *quietEnd, Timezone: *quietTZ}
	}
	return &s, nil
}

// InsertSensor creates the Sensor row. Intended to be the last step of
// device provisioning (C5), so its presence is the authoritative signal
// of a successful provision.
func (db *DB) InsertSensor(ctx context.Context, s *Sensor) error {
	var quietStart, quietEnd, quietTZ *string
	if s.QuietHours != nil {
		quietStart, quietEnd, quietTZ = &s.QuietHours.StartHHMM, &s.QuietHours.EndHHMM, &s.QuietHours.Timezone
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sensors (
			sensor_id, user_id, enabled, motion_debounce_seconds,
			inactivity_timeout_seconds, quiet_start, quiet_end, quiet_timezone,
			playback_target_id, playback_context_ref, status, thing_handle, certificate_handle
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		s.SensorID, s.UserID, s.Enabled, s.MotionDebounceSeconds,
		s.InactivityTimeoutSeconds, quietStart, quietEnd, quietTZ,
		s.PlaybackTargetID, s.PlaybackContextRef, string(s.Status), s.ThingHandle, s.CertificateHandle,
	)
	return err
}

// SensorExists reports whether a sensor with this id already exists, used
// by the provisioner to reject a duplicate sensorId with Conflict before
// any broker-side work is done.
func (db *DB) SensorExists(ctx context.Context, sensorID string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sensors WHERE sensor_id = $1)`, sensorID,
	).Scan(&exists)
	return exists, err
}

// DeleteSensor removes the Sensor row. Part of deprovisioning; tolerates
// the row already being gone.
func (db *DB) DeleteSensor(ctx context.Context, sensorID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM sensors WHERE sensor_id = $1`, sensorID)
	return err
}

// UpdateSensorLastMotion sets last_motion_at unconditionally to the given
// value. Callers must pass max(stored, occurredAt) themselves — the
// orchestrator never plain-overwrites with a possibly-stale occurredAt.
func (db *DB) UpdateSensorLastMotion(ctx context.Context, sensorID string, at time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE sensors SET last_motion_at = $2, updated_at = now() WHERE sensor_id = $1`,
		sensorID, at,
	)
	return err
}

// SetSensorStatus updates the sensor's runtime status (e.g. to "error").
func (db *DB) SetSensorStatus(ctx context.Context, sensorID string, status SensorStatus) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE sensors SET status = $2, updated_at = now() WHERE sensor_id = $1`,
		sensorID, string(status),
	)
	return err
}

// IsNoRows reports whether err is pgx's "no rows" sentinel, the signal
// callers use to surface errs.NotFound.
func IsNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
