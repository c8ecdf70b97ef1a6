package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/shared"
)

// ErrDuplicateAccount indicates the owner already holds an account with the
// same type and currency.
var ErrDuplicateAccount = errors.New("account already exists for owner, type and currency")

// Repository defines account persistence.
type Repository interface {
	ReadAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountsByOwner(ctx context.Context, ownerProfileID int64) ([]Account, error)
	// CreateAccount inserts a new account. The approval workflow calls it
	// right after winning the decide update; if the insert fails the
	// decision is reverted to keep application state and accounts in step.
	CreateAccount(ctx context.Context, account Account) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, owner_profile_id, type, currency, balance, status, created_at, updated_at`

// ReadAccount fetches one account.
func (r *PGRepository) ReadAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return account, nil
}

// AccountsByOwner lists a customer's accounts.
func (r *PGRepository) AccountsByOwner(ctx context.Context, ownerProfileID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_profile_id=$1 ORDER BY created_at ASC`, ownerProfileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CreateAccount inserts a new account record.
func (r *PGRepository) CreateAccount(ctx context.Context, account Account) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `INSERT INTO accounts (id, owner_profile_id, type, currency, balance, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		account.ID, account.OwnerProfileID, string(account.Type), account.Currency, account.Balance, string(account.Status), now)
	if err != nil {
		return mapAccountInsertError(err)
	}
	return nil
}

// mapAccountInsertError translates a unique violation on the owner/type/
// currency constraint into ErrDuplicateAccount.
func mapAccountInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_accounts_owner_type_currency" {
		return ErrDuplicateAccount
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var accType, status string
	if err := row.Scan(&a.ID, &a.OwnerProfileID, &accType, &a.Currency, &a.Balance, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = AccountType(accType)
	a.Status = AccountStatus(status)
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
