package store

import "context"

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply on top of
// schema.sql. Each must be idempotent (IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add sensors.certificate_handle",
		sql:   `ALTER TABLE sensors ADD COLUMN IF NOT EXISTS certificate_handle text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'sensors' AND column_name = 'certificate_handle')`,
	},
	{
		name:  "add sessions.duration_seconds",
		sql:   `ALTER TABLE sessions ADD COLUMN IF NOT EXISTS duration_seconds integer`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'sessions' AND column_name = 'duration_seconds')`,
	},
	{
		name:  "add motion_events.metadata",
		sql:   `ALTER TABLE motion_events ADD COLUMN IF NOT EXISTS metadata jsonb`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'motion_events' AND column_name = 'metadata')`,
	},
}

// Migrate applies each migration whose check query reports "not yet
// applied". Safe to run on every boot.
func (db *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		var applied bool
		if err := db.Pool.QueryRow(ctx, m.check).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return err
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	return nil
}
