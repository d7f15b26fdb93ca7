package store

import (
	"context"
	"time"
)

// AcquireRefreshLease attempts to take the per-user token-refresh lease via
// a conditional write: succeeds if no lease row exists for the user, or an
// existing lease has already expired. Two wardens racing for the same
// user will have exactly one INSERT/UPDATE succeed.
func (db *DB) AcquireRefreshLease(ctx context.Context, userID, leaseID string, ttl time.Duration) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO token_refresh_leases (user_id, lease_id, lease_until)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (user_id) DO UPDATE SET
			lease_id = EXCLUDED.lease_id,
			lease_until = EXCLUDED.lease_until
		WHERE token_refresh_leases.lease_until < now()
	`, userID, leaseID, ttl.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseRefreshLease drops the lease early, e.g. right after a refresh
// completes, so the next tick doesn't wait out the full TTL. Only
// releases if this caller still holds it (lease_id matches), so a late
// release from an expired attempt can't clobber a newer holder's lease.
func (db *DB) ReleaseRefreshLease(ctx context.Context, userID, leaseID string) error {
	_, err := db.Pool.Exec(ctx,
		`DELETE FROM token_refresh_leases WHERE user_id = $1 AND lease_id = $2`,
		userID, leaseID)
	return err
}
