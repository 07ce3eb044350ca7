/**
 * @description
 * Per-claim advisory locking on top of PostgreSQL session locks. A claim's
 * UUID is hashed down to the bigint key space pg_advisory_lock expects.
 * The lock is tied to a dedicated pooled connection which is held until the
 * release function runs, so the lock survives exactly as long as the caller's
 * critical section and no longer.
 *
 * @dependencies
 * - hash/fnv: Stable UUID -> int64 key derivation.
 * - github.com/jackc/pgx/v5/pgxpool: Connection acquisition.
 */

package store

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
)

// advisoryLockKey derives a stable signed 64-bit key from a claim UUID.
func advisoryLockKey(claimID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(claimID[:])
	return int64(h.Sum64())
}

// LockClaim blocks until the advisory lock for claimID is held and returns a
// release function. Concurrent verification or disbursement attempts for the
// same claim serialize here; distinct claims hash to distinct keys and run in
// parallel.
func (r *PostgresRepository) LockClaim(ctx context.Context, claimID uuid.UUID) (func(), error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	key := advisoryLockKey(claimID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, err
	}

	release := func() {
		// Unlock on a background context: the caller's context may already
		// be cancelled, and the lock must still be dropped.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, nil
}
