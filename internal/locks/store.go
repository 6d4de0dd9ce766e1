// Package locks implements a database-row mutex keyed by provider payment
// id. The unique-constraint insert keeps acquisition atomic: there is no
// check-then-act window, and a concurrent duplicate delivery simply sees
// zero rows inserted.
package locks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles processing_locks persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a lock store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Acquire attempts to take the lock for a payment id. Returns false when the
// lock is already held. The single INSERT is the atomicity guarantee; a
// conflict is an expected outcome, not an error.
func (s *Store) Acquire(ctx context.Context, paymentID string) (bool, error) {
	const q = `INSERT INTO processing_locks (payment_id) VALUES ($1) ON CONFLICT (payment_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, paymentID)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", paymentID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes the lock row. Deleting an absent row is a no-op so cleanup
// paths can call Release unconditionally.
func (s *Store) Release(ctx context.Context, paymentID string) error {
	const q = `DELETE FROM processing_locks WHERE payment_id = $1`
	if _, err := s.pool.Exec(ctx, q, paymentID); err != nil {
		return fmt.Errorf("release lock %s: %w", paymentID, err)
	}
	return nil
}
