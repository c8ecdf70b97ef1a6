package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository defines application persistence. Decisions are conditional
// updates: the store arbitrates when two administrators race.
type Repository interface {
	Create(ctx context.Context, a Application) error
	Get(ctx context.Context, id uuid.UUID) (*Application, error)
	ListByApplicant(ctx context.Context, applicantProfileID int64) ([]Application, error)
	// ListPending returns applications awaiting a decision, oldest first.
	ListPending(ctx context.Context) ([]Application, error)
	// Transition moves the application between states conditionally.
	Transition(ctx context.Context, id uuid.UUID, from []State, to State) (bool, error)
	// Decide stamps the outcome, decider and time if the application is still
	// pending. Returns false when another decision already landed.
	Decide(ctx context.Context, id uuid.UUID, outcome State, decidedBy int64, at time.Time) (bool, error)
	// RevertDecision puts an application back under review after a follow-on
	// step failed, clearing the decision stamp.
	RevertDecision(ctx context.Context, id uuid.UUID, from State) (bool, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const applicationColumns = `id, applicant_profile_id, kind, params, state, submitted_at, decided_at, decided_by`

// Create inserts a submitted application.
func (r *PGRepository) Create(ctx context.Context, a Application) error {
	params, err := json.Marshal(a.Params)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO applications (`+applicationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ApplicantProfileID, string(a.Kind), params, string(a.State), a.SubmittedAt, a.DecidedAt, a.DecidedBy)
	return err
}

// Get fetches one application.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Application, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=$1`, id)
	a, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListByApplicant lists a customer's applications, newest first.
func (r *PGRepository) ListByApplicant(ctx context.Context, applicantProfileID int64) ([]Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications WHERE applicant_profile_id=$1 ORDER BY submitted_at DESC`, applicantProfileID)
}

// ListPending lists pending applications, oldest first for fairness.
func (r *PGRepository) ListPending(ctx context.Context) ([]Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications WHERE state = ANY($1) ORDER BY submitted_at ASC`,
		[]string{string(StateSubmitted), string(StateUnderReview)})
}

// Transition performs a conditional state change.
func (r *PGRepository) Transition(ctx context.Context, id uuid.UUID, from []State, to State) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE applications SET state=$3 WHERE id=$1 AND state = ANY($2)`, id, states, string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Decide stamps outcome, decider and time in one conditional update.
func (r *PGRepository) Decide(ctx context.Context, id uuid.UUID, outcome State, decidedBy int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE applications SET state=$2, decided_by=$3, decided_at=$4
WHERE id=$1 AND state = ANY($5)`,
		id, string(outcome), decidedBy, at, []string{string(StateSubmitted), string(StateUnderReview)})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevertDecision clears the decision stamp and returns to review.
func (r *PGRepository) RevertDecision(ctx context.Context, id uuid.UUID, from State) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE applications SET state=$3, decided_by=NULL, decided_at=NULL
WHERE id=$1 AND state=$2`, id, string(from), string(StateUnderReview))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) list(ctx context.Context, query string, arg any) ([]Application, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*Application, error) {
	var a Application
	var kind, state string
	var params []byte
	if err := row.Scan(&a.ID, &a.ApplicantProfileID, &kind, &params, &state, &a.SubmittedAt, &a.DecidedAt, &a.DecidedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &a.Params); err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	a.State = State(state)
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
