package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository defines transfer persistence. State transitions are implemented
// as conditional updates so the store, not the client, arbitrates races.
type Repository interface {
	Create(ctx context.Context, t Transfer) error
	Get(ctx context.Context, id uuid.UUID) (*Transfer, error)
	ListByOwner(ctx context.Context, ownerProfileID int64) ([]Transfer, error)
	// ListByState returns transfers in a state, oldest first. The approval
	// queue is built from this for fairness.
	ListByState(ctx context.Context, state State) ([]Transfer, error)
	// Transition moves the transfer from one state to another. Returns false
	// when the transfer was not in the expected state.
	Transition(ctx context.Context, id uuid.UUID, from, to State) (bool, error)
	// AttachStepUp binds a verified token and moves the transfer forward in
	// the same conditional update.
	AttachStepUp(ctx context.Context, id uuid.UUID, tokenID string, from, to State) (bool, error)
	// Settle applies the balance movement and the terminal state change in a
	// single transaction: debit the source only if the balance still covers
	// the amount, credit an internal destination, and mark the transfer
	// committed only if it is still in the expected state. Any failure rolls
	// the whole unit back.
	Settle(ctx context.Context, id uuid.UUID, from State) (*Transfer, error)
	// ExpireStale transitions overdue open transfers to EXPIRED and returns
	// them so attached step-up tokens can be invalidated.
	ExpireStale(ctx context.Context, now time.Time) ([]Transfer, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const transferColumns = `id, source_account_id, destination_account_id, destination_external, amount, currency, reference, state, stepup_token_id, created_by, created_at, expires_at, committed_at`

// Create inserts a draft transfer.
func (r *PGRepository) Create(ctx context.Context, t Transfer) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO transfers (`+transferColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.SourceAccountID, t.DestinationAccountID, t.DestinationExternal, t.Amount, t.Currency, t.Reference,
		string(t.State), t.StepUpTokenID, t.CreatedBy, t.CreatedAt, t.ExpiresAt, t.CommittedAt)
	return err
}

// Get fetches one transfer.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListByOwner returns transfers whose source account belongs to the profile,
// newest first. Committed rows are the source of truth for history views.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerProfileID int64) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.source_account_id, t.destination_account_id, t.destination_external,
t.amount, t.currency, t.reference, t.state, t.stepup_token_id, t.created_by, t.created_at, t.expires_at, t.committed_at
FROM transfers t JOIN accounts a ON a.id = t.source_account_id
WHERE a.owner_profile_id=$1 ORDER BY t.created_at DESC`, ownerProfileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transfers []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// ListByState returns transfers in the given state, oldest first.
func (r *PGRepository) ListByState(ctx context.Context, state State) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE state=$1 ORDER BY created_at ASC`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transfers []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// Transition performs a conditional state change.
func (r *PGRepository) Transition(ctx context.Context, id uuid.UUID, from, to State) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE transfers SET state=$3 WHERE id=$1 AND state=$2`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AttachStepUp binds the token and advances the state conditionally.
func (r *PGRepository) AttachStepUp(ctx context.Context, id uuid.UUID, tokenID string, from, to State) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE transfers SET stepup_token_id=$4, state=$3 WHERE id=$1 AND state=$2`,
		id, string(from), string(to), tokenID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Settle applies debit, credit and state change atomically.
func (r *PGRepository) Settle(ctx context.Context, id uuid.UUID, from State) (*Transfer, error) {
	var settled *Transfer
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id)
		t, err := scanTransfer(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		if t.State != from {
			return ErrStateConflict
		}

		tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $2, updated_at = NOW()
WHERE id=$1 AND status='ACTIVE' AND balance >= $2`, t.SourceAccountID, t.Amount)
		if err != nil {
			return fmt.Errorf("debit source: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrInsufficientFunds
		}

		if t.DestinationAccountID != nil {
			tag, err = tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = NOW()
WHERE id=$1 AND status='ACTIVE'`, *t.DestinationAccountID, t.Amount)
			if err != nil {
				return fmt.Errorf("credit destination: %w", err)
			}
			if tag.RowsAffected() != 1 {
				return ErrStateConflict
			}
		}

		now := time.Now().UTC()
		tag, err = tx.Exec(ctx, `UPDATE transfers SET state=$3, committed_at=$4 WHERE id=$1 AND state=$2`,
			id, string(from), string(StateCommitted), now)
		if err != nil {
			return fmt.Errorf("mark committed: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrStateConflict
		}

		t.State = StateCommitted
		t.CommittedAt = &now
		settled = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// ExpireStale marks overdue open transfers as expired.
func (r *PGRepository) ExpireStale(ctx context.Context, now time.Time) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, `UPDATE transfers SET state=$2
WHERE state = ANY($3) AND expires_at < $1
RETURNING `+transferColumns, now, string(StateExpired),
		[]string{string(StateDraft), string(StatePendingStepUp), string(StateConfirmed)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expired []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *t)
	}
	return expired, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var t Transfer
	var state string
	if err := row.Scan(&t.ID, &t.SourceAccountID, &t.DestinationAccountID, &t.DestinationExternal, &t.Amount,
		&t.Currency, &t.Reference, &state, &t.StepUpTokenID, &t.CreatedBy, &t.CreatedAt, &t.ExpiresAt, &t.CommittedAt); err != nil {
		return nil, err
	}
	t.State = State(state)
	return &t, nil
}

var _ Repository = (*PGRepository)(nil)
