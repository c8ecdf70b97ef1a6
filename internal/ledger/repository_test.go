package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapAccountInsertError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "uq_accounts_owner_type_currency"}
	if err := mapAccountInsertError(dup); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	wrapped := fmt.Errorf("insert account: %w", dup)
	if err := mapAccountInsertError(wrapped); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("wrapped violation not mapped, got %v", err)
	}

	other := &pgconn.PgError{Code: "23503", ConstraintName: "fk_accounts_owner"}
	if err := mapAccountInsertError(other); errors.Is(err, ErrDuplicateAccount) {
		t.Fatal("foreign key violation mapped to ErrDuplicateAccount")
	}
	plain := errors.New("connection reset")
	if err := mapAccountInsertError(plain); err != plain {
		t.Fatalf("plain error changed: %v", err)
	}
}
