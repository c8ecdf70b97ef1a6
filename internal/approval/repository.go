package approval

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository persists decision records. approval_decisions is append-only;
// a unique constraint on (subject, ref_id) backs the one-decision invariant.
type Repository interface {
	RecordDecision(ctx context.Context, d Decision) error
	DecisionFor(ctx context.Context, subject Subject, refID uuid.UUID) (*Decision, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RecordDecision appends a decision record.
func (r *PGRepository) RecordDecision(ctx context.Context, d Decision) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_decisions (id, subject, ref_id, outcome, reason, decided_by, decided_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, string(d.Subject), d.RefID, string(d.Outcome), d.Reason, d.DecidedBy, d.DecidedAt)
	return err
}

// DecisionFor returns the decision for a subject record, if any.
func (r *PGRepository) DecisionFor(ctx context.Context, subject Subject, refID uuid.UUID) (*Decision, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, subject, ref_id, outcome, reason, decided_by, decided_at
FROM approval_decisions WHERE subject=$1 AND ref_id=$2`, string(subject), refID)
	var d Decision
	var subj, outcome string
	if err := row.Scan(&d.ID, &subj, &d.RefID, &outcome, &d.Reason, &d.DecidedBy, &d.DecidedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	d.Subject = Subject(subj)
	d.Outcome = Outcome(outcome)
	return &d, nil
}

var _ Repository = (*PGRepository)(nil)
