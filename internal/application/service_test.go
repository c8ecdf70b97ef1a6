package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-bank/meridian/internal/application"
	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/shared"
)

// fakeRepo is an in-memory application.Repository with the same conditional
// update semantics as the Postgres implementation.
type fakeRepo struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*application.Application
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{apps: make(map[uuid.UUID]*application.Application)}
}

func (f *fakeRepo) Create(ctx context.Context, a application.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := a
	f.apps[a.ID] = &cp
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*application.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListByApplicant(ctx context.Context, applicant int64) ([]application.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []application.Application
	for _, a := range f.apps {
		if a.ApplicantProfileID == applicant {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPending(ctx context.Context) ([]application.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []application.Application
	for _, a := range f.apps {
		if a.Pending() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) Transition(ctx context.Context, id uuid.UUID, from []application.State, to application.State) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if a.State == s {
			a.State = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) Decide(ctx context.Context, id uuid.UUID, outcome application.State, decidedBy int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok || !a.Pending() {
		return false, nil
	}
	a.State = outcome
	a.DecidedBy = &decidedBy
	a.DecidedAt = &at
	return true, nil
}

func (f *fakeRepo) RevertDecision(ctx context.Context, id uuid.UUID, from application.State) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok || a.State != from {
		return false, nil
	}
	a.State = application.StateUnderReview
	a.DecidedBy = nil
	a.DecidedAt = nil
	return true, nil
}

var _ application.Repository = (*fakeRepo)(nil)

func customer(profileID int64) identity.Identity {
	return identity.Identity{
		UserID:  profileID + 100,
		Role:    identity.RoleCustomer,
		Profile: identity.Profile{ID: profileID, UserID: profileID + 100},
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func accountTypePtr(t ledger.AccountType) *ledger.AccountType { return &t }

func TestSubmitLoanWithinPolicy(t *testing.T) {
	repo := newFakeRepo()
	svc := application.NewService(repo, nil, nil)

	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:       application.KindLoan,
		LoanAmount: int64Ptr(1_000_000),
		TermMonths: intPtr(48),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if app.State != application.StateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", app.State)
	}
	if app.Params.Currency != application.DefaultCurrency {
		t.Fatalf("currency = %s, want default", app.Params.Currency)
	}
	if app.ApplicantProfileID != 10 {
		t.Fatalf("applicant = %d, want 10", app.ApplicantProfileID)
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	svc := application.NewService(newFakeRepo(), nil, nil)
	_, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{Kind: "MORTGAGE"})
	if !errors.Is(err, application.ErrInvalidKind) {
		t.Fatalf("err = %v, want ErrInvalidKind", err)
	}
}

func TestSubmitLoanValidation(t *testing.T) {
	svc := application.NewService(newFakeRepo(), nil, nil)
	cases := []struct {
		name string
		req  application.SubmitRequest
	}{
		{"missing amount", application.SubmitRequest{Kind: application.KindLoan, TermMonths: intPtr(48)}},
		{"negative amount", application.SubmitRequest{Kind: application.KindLoan, LoanAmount: int64Ptr(-5), TermMonths: intPtr(48)}},
		{"below minimum", application.SubmitRequest{Kind: application.KindLoan, LoanAmount: int64Ptr(application.MinLoanAmount - 1), TermMonths: intPtr(48)}},
		{"above maximum", application.SubmitRequest{Kind: application.KindLoan, LoanAmount: int64Ptr(application.MaxLoanAmount + 1), TermMonths: intPtr(48)}},
		{"missing term", application.SubmitRequest{Kind: application.KindLoan, LoanAmount: int64Ptr(1_000_000)}},
		{"term too long", application.SubmitRequest{Kind: application.KindLoan, LoanAmount: int64Ptr(1_000_000), TermMonths: intPtr(999)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), customer(10), tc.req); !errors.Is(err, application.ErrInvalidParameters) {
				t.Fatalf("err = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestSubmitNewAccountRestrictsTypes(t *testing.T) {
	svc := application.NewService(newFakeRepo(), nil, nil)

	if _, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewAccount,
		AccountType: accountTypePtr(ledger.AccountTypeLoan),
	}); !errors.Is(err, application.ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters for LOAN account type", err)
	}

	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewAccount,
		AccountType: accountTypePtr(ledger.AccountTypeSavings),
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("submit savings: %v", err)
	}
	if app.Params.AccountType == nil || *app.Params.AccountType != ledger.AccountTypeSavings {
		t.Fatalf("account type not stored")
	}
	if app.Params.Currency != "USD" {
		t.Fatalf("currency = %s, want USD", app.Params.Currency)
	}
}

func TestSubmitNewCardValidatesProduct(t *testing.T) {
	svc := application.NewService(newFakeRepo(), nil, nil)
	if _, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("OBSIDIAN"),
	}); !errors.Is(err, application.ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters for unknown product", err)
	}
	if _, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("GOLD"),
	}); err != nil {
		t.Fatalf("submit gold card: %v", err)
	}
}

func TestSubmitRejectsUnknownCurrency(t *testing.T) {
	svc := application.NewService(newFakeRepo(), nil, nil)
	if _, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("GOLD"),
		Currency:    "ZZZ",
	}); !errors.Is(err, application.ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters for unknown currency", err)
	}
}

func TestGetRestrictedToApplicant(t *testing.T) {
	repo := newFakeRepo()
	svc := application.NewService(repo, nil, nil)
	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("STANDARD"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Get(context.Background(), customer(10), app.ID); err != nil {
		t.Fatalf("get as applicant: %v", err)
	}
	if _, err := svc.Get(context.Background(), customer(99), app.ID); !errors.Is(err, application.ErrNotApplicant) {
		t.Fatalf("err = %v, want ErrNotApplicant", err)
	}
}

func TestWithdrawPendingApplication(t *testing.T) {
	repo := newFakeRepo()
	svc := application.NewService(repo, nil, nil)
	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("STANDARD"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	withdrawn, err := svc.Withdraw(context.Background(), customer(10), app.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.State != application.StateWithdrawn {
		t.Fatalf("state = %s, want WITHDRAWN", withdrawn.State)
	}
}

func TestWithdrawLosesToDecision(t *testing.T) {
	repo := newFakeRepo()
	svc := application.NewService(repo, nil, nil)
	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("STANDARD"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A decision lands before the customer withdraws.
	if ok, _ := repo.Decide(context.Background(), app.ID, application.StateApproved, 50, time.Now()); !ok {
		t.Fatalf("decide should win")
	}
	if _, err := svc.Withdraw(context.Background(), customer(10), app.ID); !errors.Is(err, application.ErrNotWithdrawable) {
		t.Fatalf("err = %v, want ErrNotWithdrawable", err)
	}
	got, _ := repo.Get(context.Background(), app.ID)
	if got.State != application.StateApproved {
		t.Fatalf("decision overwritten by withdraw")
	}
}

func TestWithdrawForeignApplication(t *testing.T) {
	repo := newFakeRepo()
	svc := application.NewService(repo, nil, nil)
	app, err := svc.Submit(context.Background(), customer(10), application.SubmitRequest{
		Kind:        application.KindNewCard,
		CardProduct: strPtr("STANDARD"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Withdraw(context.Background(), customer(99), app.ID); !errors.Is(err, application.ErrNotApplicant) {
		t.Fatalf("err = %v, want ErrNotApplicant", err)
	}
}
