package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository defines profile lookups for role resolution.
type Repository interface {
	FindCustomerProfile(ctx context.Context, userID int64) (*Profile, error)
	FindAdministratorProfile(ctx context.Context, userID int64) (*Profile, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindCustomerProfile fetches the customer profile linked to a user.
func (r *PGRepository) FindCustomerProfile(ctx context.Context, userID int64) (*Profile, error) {
	return r.findProfile(ctx, `SELECT id, user_id, full_name, email, created_at FROM customer_profiles WHERE user_id=$1`, userID)
}

// FindAdministratorProfile fetches the administrator profile linked to a user.
func (r *PGRepository) FindAdministratorProfile(ctx context.Context, userID int64) (*Profile, error) {
	return r.findProfile(ctx, `SELECT id, user_id, full_name, email, created_at FROM administrator_profiles WHERE user_id=$1`, userID)
}

// CustomerProfileByID fetches a customer profile by its own id. The approval
// workflow uses it to reach the applicant behind a reviewed record.
func (r *PGRepository) CustomerProfileByID(ctx context.Context, profileID int64) (*Profile, error) {
	return r.findProfile(ctx, `SELECT id, user_id, full_name, email, created_at FROM customer_profiles WHERE id=$1`, profileID)
}

func (r *PGRepository) findProfile(ctx context.Context, query string, arg int64) (*Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

var _ Repository = (*PGRepository)(nil)
