package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/platform/httpx"
)

// IdempotencyStore persists processed keys. Commit and decide calls reserve a
// key before applying their mutation and bind the resulting record id after,
// so a retried request returns the original record instead of double-applying.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

var (
	// ErrIdempotencyConflict indicates a duplicate key whose first attempt is
	// still in flight, or a key replayed against a different record.
	ErrIdempotencyConflict = fmt.Errorf("%w: idempotent request already in progress", httpx.ErrConflict)
)

// Reserve claims the key for the given module. A duplicate key that has a
// bound record returns that record's id; a duplicate still being processed
// returns ErrIdempotencyConflict.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, module string) (uuid.UUID, bool, error) {
	if s == nil {
		return uuid.Nil, false, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return uuid.Nil, false, errors.New("idempotency key required")
	}
	if module == "" {
		return uuid.Nil, false, errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			var ref *uuid.UUID
			lookupErr := s.pool.QueryRow(ctx, `SELECT ref_id FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&ref)
			if lookupErr != nil {
				if errors.Is(lookupErr, pgx.ErrNoRows) {
					return uuid.Nil, false, ErrIdempotencyConflict
				}
				return uuid.Nil, false, lookupErr
			}
			if ref == nil {
				return uuid.Nil, false, ErrIdempotencyConflict
			}
			return *ref, true, nil
		}
		return uuid.Nil, false, err
	}
	return uuid.Nil, false, nil
}

// Bind records the id produced by the operation the key guarded.
func (s *IdempotencyStore) Bind(ctx context.Context, key string, ref uuid.UUID) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET ref_id=$2 WHERE key=$1`, key, ref)
	return err
}

// Release removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
