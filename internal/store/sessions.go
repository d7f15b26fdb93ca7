package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionStatus mirrors the spec's Session.status enum.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is the persisted record of one motion-activity interval.
type Session struct {
	SessionID       string
	SensorID        string
	UserID          string
	Status          SessionStatus
	StartAt         time.Time
	LastMotionAt    time.Time
	EndAt           *time.Time
	MotionCount     int
	PlaybackStarted bool
	DurationSeconds *int
}

// GetActiveSession returns the active session for a sensor, or
// pgx.ErrNoRows if none is open. "Active" is computed from this row's
// existence, never from in-process state (spec §4.2/§9).
func (db *DB) GetActiveSession(ctx context.Context, sensorID string) (*Session, error) {
	return db.scanSession(db.Pool.QueryRow(ctx, `
		SELECT session_id, sensor_id, user_id, status, start_at, last_motion_at,
		       end_at, motion_count, playback_started, duration_seconds
		FROM sessions WHERE sensor_id = $1 AND status = 'active'
	`, sensorID))
}

// GetSession loads a session by id regardless of status.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return db.scanSession(db.Pool.QueryRow(ctx, `
		SELECT session_id, sensor_id, user_id, status, start_at, last_motion_at,
		       end_at, motion_count, playback_started, duration_seconds
		FROM sessions WHERE session_id = $1
	`, sessionID))
}

func (db *DB) scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var status string
	if err := row.Scan(
		&s.SessionID, &s.SensorID, &s.UserID, &status, &s.StartAt, &s.LastMotionAt,
		&s.EndAt, &s.MotionCount, &s.PlaybackStarted, &s.DurationSeconds,
	); err != nil {
		return nil, err
	}
	s.Status = SessionStatus(status)
	return &s, nil
}

// OpenOrAdoptSession attempts to create a new active session for a sensor
// using a conditional write against the partial unique index on
// (sensor_id) WHERE status='active'. On conflict — another handler for
// the same sensor won the race — it re-reads and returns the session that
// exists instead, per the spec's "re-read and adopt" conflict policy.
// The returned bool is true when this call created the row.
func (db *DB) OpenOrAdoptSession(ctx context.Context, candidate *Session, ttl time.Duration) (*Session, bool, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO sessions (
			session_id, sensor_id, user_id, status, start_at, last_motion_at,
			motion_count, playback_started, expires_at
		) VALUES ($1,$2,$3,'active',$4,$5,$6,$7, $4 + $8::interval)
		ON CONFLICT (sensor_id) WHERE status = 'active' DO NOTHING
		RETURNING session_id, sensor_id, user_id, status, start_at, last_motion_at,
		          end_at, motion_count, playback_started, duration_seconds
	`,
		candidate.SessionID, candidate.SensorID, candidate.UserID,
		candidate.StartAt, candidate.LastMotionAt, candidate.MotionCount,
		candidate.PlaybackStarted, ttl.String(),
	)
	created, err := db.scanSession(row)
	if err == nil {
		return created, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	existing, err := db.GetActiveSession(ctx, candidate.SensorID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ExtendSession conditionally increments motion_count and raises
// last_motion_at for a still-active session. It is a no-op (0 rows
// affected) if the session has since closed, which callers treat as
// "another closer won, this motion applies to nothing".
func (db *DB) ExtendSession(ctx context.Context, sessionID string, occurredAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sessions
		SET motion_count = motion_count + 1,
		    last_motion_at = GREATEST(last_motion_at, $2)
		WHERE session_id = $1 AND status = 'active'
	`, sessionID, occurredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPlaybackStarted flips playback_started once the orchestrator has
// issued a start command.
func (db *DB) MarkPlaybackStarted(ctx context.Context, sessionID string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE sessions SET playback_started = true WHERE session_id = $1`, sessionID)
	return err
}

// CloseSession conditionally transitions a session from active to
// completed. The conditional WHERE clause makes this idempotent: a second
// caller (reaper vs. reaper, or reaper vs. a late motion event) racing to
// close the same session affects 0 rows and is treated as success.
func (db *DB) CloseSession(ctx context.Context, sessionID string, endAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed',
		    end_at = $2,
		    duration_seconds = EXTRACT(EPOCH FROM ($2 - start_at))::int
		WHERE session_id = $1 AND status = 'active'
	`, sessionID, endAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// StaleActiveSession is the minimal projection the reaper needs per row,
// scanned off the (status, last_motion_at) partial index rather than a
// full table scan.
type StaleActiveSession struct {
	SessionID    string
	SensorID     string
	UserID       string
	StartAt      time.Time
	LastMotionAt time.Time
}

// ListActiveSessions returns every currently-active session, read off the
// status-indexed projection (spec §4.3 "must not scan the entire Session
// space"). The reaper filters by each sensor's own
// inactivityTimeoutSeconds after loading the owning Sensor.
func (db *DB) ListActiveSessions(ctx context.Context) ([]StaleActiveSession, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT session_id, sensor_id, user_id, start_at, last_motion_at
		FROM sessions WHERE status = 'active'
		ORDER BY last_motion_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StaleActiveSession
	for rows.Next() {
		var s StaleActiveSession
		if err := rows.Scan(&s.SessionID, &s.SensorID, &s.UserID, &s.StartAt, &s.LastMotionAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeExpiredSessions deletes completed (or otherwise) sessions whose
// retention horizon has passed (spec §3 "time-to-live ... default 30
// days from startAt").
func (db *DB) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
