package store

import "context"

// Preferences holds a user's defaults applied to newly-provisioned
// sensors that don't override them explicitly.
type Preferences struct {
	DefaultDebounceSeconds int
	DefaultTimeoutSeconds  int
	DefaultQuietStart      string
	DefaultQuietEnd        string
	DefaultQuietTimezone   string
	NotificationsEnabled   bool
}

// User is the persisted record for a music-service account owner.
type User struct {
	UserID         string
	MusicConnected bool
	TokenRef       string
	Preferences    Preferences
}

// GetUser loads a user by id. Returns pgx.ErrNoRows if absent.
func (db *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, music_connected, token_ref,
		       default_debounce_seconds, default_timeout_seconds,
		       default_quiet_start, default_quiet_end, default_quiet_timezone,
		       notifications_enabled
		FROM users WHERE user_id = $1
	`, userID).Scan(
		&u.UserID, &u.MusicConnected, &u.TokenRef,
		&u.Preferences.DefaultDebounceSeconds, &u.Preferences.DefaultTimeoutSeconds,
		&u.Preferences.DefaultQuietStart, &u.Preferences.DefaultQuietEnd, &u.Preferences.DefaultQuietTimezone,
		&u.Preferences.NotificationsEnabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates or updates a user record.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (user_id, music_connected, token_ref,
			default_debounce_seconds, default_timeout_seconds,
			default_quiet_start, default_quiet_end, default_quiet_timezone,
			notifications_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id) DO UPDATE SET
			music_connected = EXCLUDED.music_connected,
			token_ref = EXCLUDED.token_ref,
			updated_at = now()
	`,
		u.UserID, u.MusicConnected, u.TokenRef,
		u.Preferences.DefaultDebounceSeconds, u.Preferences.DefaultTimeoutSeconds,
		u.Preferences.DefaultQuietStart, u.Preferences.DefaultQuietEnd, u.Preferences.DefaultQuietTimezone,
		u.Preferences.NotificationsEnabled,
	)
	return err
}

// SetMusicConnected flips the music-connected flag and, when disconnecting,
// clears the token reference so the invariant "musicConnected=true implies
// a non-empty tokenRef" can never be violated.
func (db *DB) SetMusicConnected(ctx context.Context, userID string, connected bool) error {
	if !connected {
		_, err := db.Pool.Exec(ctx,
			`UPDATE users SET music_connected = false, token_ref = '', updated_at = now() WHERE user_id = $1`,
			userID)
		return err
	}
	_, err := db.Pool.Exec(ctx,
		`UPDATE users SET music_connected = true, updated_at = now() WHERE user_id = $1`,
		userID)
	return err
}

// ListMusicConnectedUsers returns every user the warden must consider on a
// tick.
func (db *DB) ListMusicConnectedUsers(ctx context.Context) ([]User, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, music_connected, token_ref,
		       default_debounce_seconds, default_timeout_seconds,
		       default_quiet_start, default_quiet_end, default_quiet_timezone,
		       notifications_enabled
		FROM users WHERE music_connected = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.UserID, &u.MusicConnected, &u.TokenRef,
			&u.Preferences.DefaultDebounceSeconds, &u.Preferences.DefaultTimeoutSeconds,
			&u.Preferences.DefaultQuietStart, &u.Preferences.DefaultQuietEnd, &u.Preferences.DefaultQuietTimezone,
			&u.Preferences.NotificationsEnabled,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
