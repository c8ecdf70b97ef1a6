package stepup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-bank/meridian/internal/stepup"
)

type stubVerifier struct {
	password string
	err      error
}

func (s *stubVerifier) VerifyCredential(ctx context.Context, userID int64, credential string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return credential == s.password, nil
}

func newAuthenticator(t *testing.T, verifier stepup.CredentialVerifier) *stepup.Authenticator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := stepup.NewRedisTokenStore(client)
	return stepup.NewAuthenticator(verifier, store, 5*time.Minute)
}

func TestVerifyEmptyCredential(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2", err: errors.New("must not be called")})
	_, err := auth.Verify(context.Background(), 1, "   ", stepup.ActionTransferCommit)
	if !errors.Is(err, stepup.ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
}

func TestVerifyInvalidCredential(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	_, err := auth.Verify(context.Background(), 1, "wrong", stepup.ActionTransferCommit)
	if !errors.Is(err, stepup.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyIssuesToken(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	token, err := auth.Verify(context.Background(), 1, "hunter2", stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if token.ID == "" {
		t.Fatal("expected non-empty token id")
	}
	if token.UserID != 1 || token.Action != stepup.ActionTransferCommit {
		t.Fatalf("token not bound to caller/action: %+v", token)
	}
	if _, err := auth.Check(context.Background(), token.ID, 1, stepup.ActionTransferCommit); err != nil {
		t.Fatalf("check fresh token: %v", err)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	token, err := auth.Verify(context.Background(), 1, "hunter2", stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := auth.Consume(context.Background(), token.ID, 1, stepup.ActionTransferCommit); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	_, err = auth.Consume(context.Background(), token.ID, 1, stepup.ActionTransferCommit)
	if !errors.Is(err, stepup.ErrStaleToken) {
		t.Fatalf("expected ErrStaleToken on reuse, got %v", err)
	}
}

func TestConsumeRejectsWrongCaller(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	token, err := auth.Verify(context.Background(), 1, "hunter2", stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	_, err = auth.Consume(context.Background(), token.ID, 2, stepup.ActionTransferCommit)
	if !errors.Is(err, stepup.ErrStaleToken) {
		t.Fatalf("expected ErrStaleToken for wrong caller, got %v", err)
	}
}

func TestRestoreAllowsRetry(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	token, err := auth.Verify(context.Background(), 1, "hunter2", stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	consumed, err := auth.Consume(context.Background(), token.ID, 1, stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := auth.Restore(context.Background(), consumed); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := auth.Consume(context.Background(), token.ID, 1, stepup.ActionTransferCommit); err != nil {
		t.Fatalf("consume after restore: %v", err)
	}
}

func TestInvalidateDropsToken(t *testing.T) {
	auth := newAuthenticator(t, &stubVerifier{password: "hunter2"})
	token, err := auth.Verify(context.Background(), 1, "hunter2", stepup.ActionTransferCommit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := auth.Invalidate(context.Background(), token.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, err = auth.Check(context.Background(), token.ID, 1, stepup.ActionTransferCommit)
	if !errors.Is(err, stepup.ErrStaleToken) {
		t.Fatalf("expected ErrStaleToken after invalidate, got %v", err)
	}
}
