package stepup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialVerifier re-checks a user's stored credential. Satisfied by the
// auth service; kept as an interface so the authenticator never sees hashes.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, userID int64, credential string) (bool, error)
}

// Authenticator issues single-use step-up tokens after re-validating the live
// caller's credential.
type Authenticator struct {
	verifier CredentialVerifier
	tokens   TokenStore
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator constructs an Authenticator. ttl bounds how long a
// verified-but-unconsumed token stays usable.
func NewAuthenticator(verifier CredentialVerifier, tokens TokenStore, ttl time.Duration) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		tokens:   tokens,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Verify re-validates the caller's credential and, on success, issues a token
// scoped to the given action. A blank credential fails before any remote
// check. Every verification always runs against the caller's own stored
// credential; there is no shared or fixed administrator secret.
func (a *Authenticator) Verify(ctx context.Context, userID int64, credential, action string) (Token, error) {
	if strings.TrimSpace(credential) == "" {
		return Token{}, ErrEmptyCredential
	}
	ok, err := a.verifier.VerifyCredential(ctx, userID, credential)
	if err != nil {
		return Token{}, fmt.Errorf("verify credential: %w", err)
	}
	if !ok {
		return Token{}, ErrInvalidCredential
	}

	now := a.now()
	token := Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.tokens.Issue(ctx, token); err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Check confirms a token exists, is unconsumed, and belongs to the user and
// action, without consuming it.
func (a *Authenticator) Check(ctx context.Context, id string, userID int64, action string) (Token, error) {
	token, err := a.tokens.Peek(ctx, id)
	if err != nil {
		return Token{}, err
	}
	if token.UserID != userID || token.Action != action || token.Expired(a.now()) {
		return Token{}, ErrStaleToken
	}
	return token, nil
}

// Consume redeems the token for the commit it guards. Exactly one caller
// succeeds; any reuse observes ErrStaleToken.
func (a *Authenticator) Consume(ctx context.Context, id string, userID int64, action string) (Token, error) {
	token, err := a.tokens.Consume(ctx, id)
	if err != nil {
		return Token{}, err
	}
	if token.UserID != userID || token.Action != action || token.Expired(a.now()) {
		return Token{}, ErrStaleToken
	}
	return token, nil
}

// Restore puts a consumed token back after the guarded operation failed
// without side effects, so the caller can retry without re-verifying.
func (a *Authenticator) Restore(ctx context.Context, token Token) error {
	return a.tokens.Restore(ctx, token)
}

// Invalidate drops a token, e.g. when the transfer it guards expires.
func (a *Authenticator) Invalidate(ctx context.Context, id string) error {
	return a.tokens.Invalidate(ctx, id)
}
