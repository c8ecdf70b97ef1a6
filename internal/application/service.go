package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Product policy bounds for loan applications, in minor units.
const (
	MinLoanAmount = 50_000      // 500.00
	MaxLoanAmount = 100_000_000 // 1,000,000.00
	MinTermMonths = 6
	MaxTermMonths = 360
)

// DefaultCurrency is used when a submission omits one.
const DefaultCurrency = "EUR"

var validCardProducts = map[string]bool{
	"STANDARD": true,
	"GOLD":     true,
	"PLATINUM": true,
}

// AuditRecorder persists audit entries. Satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the application workflow for customers.
type Service struct {
	repo  Repository
	audit AuditRecorder
	log   *slog.Logger
	now   func() time.Time
}

// NewService constructs an application service.
func NewService(repo Repository, audit AuditRecorder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, audit: audit, log: log, now: time.Now}
}

// Submit validates and stores a new application in SUBMITTED state.
func (s *Service) Submit(ctx context.Context, caller identity.Identity, req SubmitRequest) (*Application, error) {
	kind := req.Kind
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}

	params, err := buildParams(kind, req)
	if err != nil {
		return nil, err
	}

	app := Application{
		ID:                 uuid.New(),
		ApplicantProfileID: caller.Profile.ID,
		Kind:               kind,
		Params:             params,
		State:              StateSubmitted,
		SubmittedAt:        s.now().UTC(),
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	s.recordAudit(ctx, caller.Profile.ID, "application.submit", app.ID)
	return &app, nil
}

func buildParams(kind Kind, req SubmitRequest) (Parameters, error) {
	cur := req.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	if _, err := currency.ParseISO(cur); err != nil {
		return Parameters{}, fmt.Errorf("%w: unknown currency %q", ErrInvalidParameters, req.Currency)
	}

	p := Parameters{Currency: cur}
	switch kind {
	case KindLoan:
		if req.LoanAmount == nil || *req.LoanAmount <= 0 {
			return Parameters{}, fmt.Errorf("%w: loan amount must be positive", ErrInvalidParameters)
		}
		if *req.LoanAmount < MinLoanAmount || *req.LoanAmount > MaxLoanAmount {
			return Parameters{}, fmt.Errorf("%w: loan amount outside product bounds", ErrInvalidParameters)
		}
		if req.TermMonths == nil || *req.TermMonths < MinTermMonths || *req.TermMonths > MaxTermMonths {
			return Parameters{}, fmt.Errorf("%w: term must be between %d and %d months", ErrInvalidParameters, MinTermMonths, MaxTermMonths)
		}
		p.LoanAmount = req.LoanAmount
		p.TermMonths = req.TermMonths
	case KindNewAccount:
		if req.AccountType == nil {
			return Parameters{}, fmt.Errorf("%w: account type is required", ErrInvalidParameters)
		}
		at := *req.AccountType
		if at != ledger.AccountTypeChecking && at != ledger.AccountTypeSavings {
			return Parameters{}, fmt.Errorf("%w: account type %q cannot be opened directly", ErrInvalidParameters, *req.AccountType)
		}
		p.AccountType = &at
	case KindNewCard:
		if req.CardProduct == nil || !validCardProducts[*req.CardProduct] {
			return Parameters{}, fmt.Errorf("%w: unknown card product", ErrInvalidParameters)
		}
		p.CardProduct = req.CardProduct
	}
	return p, nil
}

// Get returns one application, restricted to its applicant.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Application, error) {
	app, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.ApplicantProfileID != caller.Profile.ID {
		return nil, ErrNotApplicant
	}
	return app, nil
}

// List returns the applicant's applications.
func (s *Service) List(ctx context.Context, caller identity.Identity) ([]Application, error) {
	return s.repo.ListByApplicant(ctx, caller.Profile.ID)
}

// ListPending returns applications awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Application, error) {
	return s.repo.ListPending(ctx)
}

// Withdraw retracts a pending application. Decided applications stay as
// decided; withdrawal loses the race once a decision has landed.
func (s *Service) Withdraw(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Application, error) {
	app, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.ApplicantProfileID != caller.Profile.ID {
		return nil, ErrNotApplicant
	}
	ok, err := s.repo.Transition(ctx, id, []State{StateSubmitted, StateUnderReview}, StateWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("withdraw application: %w", err)
	}
	if !ok {
		return nil, ErrNotWithdrawable
	}
	app.State = StateWithdrawn
	s.recordAudit(ctx, caller.Profile.ID, "application.withdraw", id)
	return app, nil
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, id uuid.UUID) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "application",
		EntityID: id.String(),
		At:       s.now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("audit record failed", "action", action, "error", err)
	}
}
