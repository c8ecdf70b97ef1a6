package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/notify"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
)

const idempotencyModule = "transfer.commit"

// IdempotencyStore reserves commit idempotency keys. Satisfied by
// shared.IdempotencyStore.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, module string) (uuid.UUID, bool, error)
	Bind(ctx context.Context, key string, ref uuid.UUID) error
	Release(ctx context.Context, key string) error
}

// AuditRecorder persists audit entries. Satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the transfer workflow from draft to settlement.
type Service struct {
	repo            Repository
	accounts        ledger.Repository
	stepUp          *stepup.Authenticator
	idempotency     IdempotencyStore
	audit           AuditRecorder
	notifier        notify.Notifier
	metrics         *observability.Metrics
	logger          *slog.Logger
	draftTTL        time.Duration
	reviewThreshold int64
	now             func() time.Time
}

// ServiceConfig collects the service dependencies.
type ServiceConfig struct {
	Repo        Repository
	Accounts    ledger.Repository
	StepUp      *stepup.Authenticator
	Idempotency IdempotencyStore
	Audit       AuditRecorder
	Notifier    notify.Notifier
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	// DraftTTL bounds how long an uncommitted transfer stays actionable.
	DraftTTL time.Duration
	// ReviewThreshold routes transfers at or above this amount (minor units)
	// to administrator review instead of immediate settlement. Zero disables
	// review.
	ReviewThreshold int64
}

// NewService constructs the transfer service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.DraftTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{
		repo:            cfg.Repo,
		accounts:        cfg.Accounts,
		stepUp:          cfg.StepUp,
		idempotency:     cfg.Idempotency,
		audit:           cfg.Audit,
		notifier:        notifier,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		draftTTL:        ttl,
		reviewThreshold: cfg.ReviewThreshold,
		now:             time.Now,
	}
}

// CreateDraft validates the request and records a draft transfer. All
// validation happens before any store write.
func (s *Service) CreateDraft(ctx context.Context, caller identity.Identity, req CreateDraftRequest) (*Transfer, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if (req.DestinationAccountID == nil) == (req.DestinationExternal == nil) {
		return nil, ErrInvalidDestination
	}
	if req.DestinationAccountID != nil && *req.DestinationAccountID == req.SourceAccountID {
		return nil, ErrSameAccount
	}
	if _, err := currency.ParseISO(req.Currency); err != nil {
		return nil, ErrInvalidCurrency
	}

	source, err := s.accounts.ReadAccount(ctx, req.SourceAccountID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrUnauthorizedAccount
		}
		return nil, fmt.Errorf("read source account: %w", err)
	}
	if source.OwnerProfileID != caller.Profile.ID {
		return nil, ErrUnauthorizedAccount
	}
	if source.Currency != req.Currency {
		return nil, ErrInvalidCurrency
	}
	if req.DestinationAccountID != nil {
		dest, err := s.accounts.ReadAccount(ctx, *req.DestinationAccountID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, ErrInvalidDestination
			}
			return nil, fmt.Errorf("read destination account: %w", err)
		}
		if dest.Status != ledger.AccountStatusActive {
			return nil, ErrInvalidDestination
		}
	}

	now := s.now().UTC()
	t := Transfer{
		ID:                   uuid.New(),
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		DestinationExternal:  req.DestinationExternal,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Reference:            req.Reference,
		State:                StateDraft,
		CreatedBy:            caller.Profile.ID,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.draftTTL),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	return &t, nil
}

// Confirm moves a transfer toward settlement. Without a token the transfer
// parks in PENDING_STEPUP and the caller gets stepup.ErrRequired; with a
// verified token it advances to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, caller identity.Identity, transferID uuid.UUID, tokenID string) (*Transfer, error) {
	t, err := s.getOwned(ctx, caller, transferID)
	if err != nil {
		return nil, err
	}
	if expired, err := s.expireIfOverdue(ctx, t); err != nil {
		return nil, err
	} else if expired {
		return nil, ErrExpired
	}

	switch t.State {
	case StateDraft, StatePendingStepUp:
	default:
		return nil, ErrStateConflict
	}

	if tokenID == "" {
		if t.State == StateDraft {
			if ok, err := s.repo.Transition(ctx, t.ID, StateDraft, StatePendingStepUp); err != nil {
				return nil, err
			} else if !ok {
				return nil, ErrStateConflict
			}
		}
		return nil, stepup.ErrRequired
	}

	if _, err := s.stepUp.Check(ctx, tokenID, caller.UserID, stepup.ActionTransferCommit); err != nil {
		return nil, err
	}
	ok, err := s.repo.AttachStepUp(ctx, t.ID, tokenID, t.State, StateConfirmed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateConflict
	}
	return s.repo.Get(ctx, t.ID)
}

// Commit settles a confirmed transfer. It is the only operation that mutates
// balances. The idempotency key makes a retried call return the original
// result instead of applying a second movement; the step-up token is consumed
// exactly once.
func (s *Service) Commit(ctx context.Context, caller identity.Identity, transferID uuid.UUID, idempotencyKey string) (*Transfer, error) {
	ref, replay, err := s.idempotency.Reserve(ctx, idempotencyKey, idempotencyModule)
	if err != nil {
		return nil, err
	}
	if replay {
		// A key bound to a different transfer is a client mixup, not a
		// retry. The replayed result goes through the same ownership check
		// as a fresh commit so a key is never a read capability on someone
		// else's transfer.
		if ref != transferID {
			return nil, shared.ErrIdempotencyConflict
		}
		return s.getOwned(ctx, caller, ref)
	}

	t, err := s.getOwned(ctx, caller, transferID)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, err
	}
	if expired, err := s.expireIfOverdue(ctx, t); err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, err
	} else if expired {
		s.releaseKey(ctx, idempotencyKey)
		return nil, ErrExpired
	}
	if t.State != StateConfirmed {
		s.releaseKey(ctx, idempotencyKey)
		return nil, ErrStateConflict
	}
	if t.StepUpTokenID == nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, stepup.ErrRequired
	}

	token, err := s.stepUp.Consume(ctx, *t.StepUpTokenID, caller.UserID, stepup.ActionTransferCommit)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, err
	}

	if s.reviewThreshold > 0 && t.Amount >= s.reviewThreshold {
		ok, err := s.repo.Transition(ctx, t.ID, StateConfirmed, StatePendingReview)
		if err != nil || !ok {
			s.restoreToken(ctx, token)
			s.releaseKey(ctx, idempotencyKey)
			if err != nil {
				return nil, err
			}
			return nil, ErrStateConflict
		}
		s.bindKey(ctx, idempotencyKey, t.ID)
		s.recordAudit(ctx, caller, "transfer.flagged_for_review", t.ID)
		return s.repo.Get(ctx, t.ID)
	}

	settled, err := s.repo.Settle(ctx, t.ID, StateConfirmed)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		if errors.Is(err, ErrInsufficientFunds) {
			// No balance was touched; give the token back so the caller can
			// retry after funding the account.
			s.restoreToken(ctx, token)
			return nil, err
		}
		if errors.Is(err, ErrStateConflict) {
			return nil, err
		}
		s.restoreToken(ctx, token)
		return nil, fmt.Errorf("settle transfer: %w", err)
	}

	s.bindKey(ctx, idempotencyKey, settled.ID)
	s.recordAudit(ctx, caller, "transfer.committed", settled.ID)
	s.metrics.TransferOutcome("committed")
	s.notifyOutcome(ctx, caller, settled)
	return settled, nil
}

// Cancel abandons a draft or pending-step-up transfer. A confirmed transfer
// can no longer be cancelled by the customer, only expired by the timeout.
func (s *Service) Cancel(ctx context.Context, caller identity.Identity, transferID uuid.UUID) (*Transfer, error) {
	t, err := s.getOwned(ctx, caller, transferID)
	if err != nil {
		return nil, err
	}
	switch t.State {
	case StateDraft, StatePendingStepUp:
	default:
		return nil, ErrStateConflict
	}
	ok, err := s.repo.Transition(ctx, t.ID, t.State, StateCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateConflict
	}
	if t.StepUpTokenID != nil {
		_ = s.stepUp.Invalidate(ctx, *t.StepUpTokenID)
	}
	return s.repo.Get(ctx, t.ID)
}

// Get returns one of the caller's transfers.
func (s *Service) Get(ctx context.Context, caller identity.Identity, transferID uuid.UUID) (*Transfer, error) {
	return s.getOwned(ctx, caller, transferID)
}

// List returns the caller's transfers, newest first.
func (s *Service) List(ctx context.Context, caller identity.Identity) ([]Transfer, error) {
	return s.repo.ListByOwner(ctx, caller.Profile.ID)
}

// ListPendingReview returns transfers awaiting an administrator decision,
// oldest first.
func (s *Service) ListPendingReview(ctx context.Context) ([]Transfer, error) {
	return s.repo.ListByState(ctx, StatePendingReview)
}

// SettleReviewed settles a transfer an administrator approved. The conditional
// update from PENDING_REVIEW guarantees a single winner between concurrent
// reviewers.
func (s *Service) SettleReviewed(ctx context.Context, transferID uuid.UUID) (*Transfer, error) {
	settled, err := s.repo.Settle(ctx, transferID, StatePendingReview)
	if err != nil {
		return nil, err
	}
	s.metrics.TransferOutcome("committed")
	return settled, nil
}

// RejectReviewed rejects a transfer under review.
func (s *Service) RejectReviewed(ctx context.Context, transferID uuid.UUID) (*Transfer, error) {
	ok, err := s.repo.Transition(ctx, transferID, StatePendingReview, StateRejected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateConflict
	}
	s.metrics.TransferOutcome("rejected")
	return s.repo.Get(ctx, transferID)
}

// ExpireStale sweeps overdue open transfers and invalidates their step-up
// tokens so a stale confirmation cannot be replayed later.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, t := range expired {
		if t.StepUpTokenID != nil {
			if err := s.stepUp.Invalidate(ctx, *t.StepUpTokenID); err != nil && s.logger != nil {
				s.logger.Warn("invalidate step-up token", slog.Any("error", err))
			}
		}
		s.metrics.TransferOutcome("expired")
	}
	return len(expired), nil
}

func (s *Service) getOwned(ctx context.Context, caller identity.Identity, transferID uuid.UUID) (*Transfer, error) {
	t, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	source, err := s.accounts.ReadAccount(ctx, t.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("read source account: %w", err)
	}
	if source.OwnerProfileID != caller.Profile.ID {
		return nil, ErrUnauthorizedAccount
	}
	return t, nil
}

func (s *Service) expireIfOverdue(ctx context.Context, t *Transfer) (bool, error) {
	if !t.Open() || !s.now().After(t.ExpiresAt) {
		return false, nil
	}
	if _, err := s.repo.Transition(ctx, t.ID, t.State, StateExpired); err != nil {
		return false, err
	}
	if t.StepUpTokenID != nil {
		_ = s.stepUp.Invalidate(ctx, *t.StepUpTokenID)
	}
	s.metrics.TransferOutcome("expired")
	return true, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idempotency.Release(ctx, key); err != nil && s.logger != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (s *Service) bindKey(ctx context.Context, key string, ref uuid.UUID) {
	if err := s.idempotency.Bind(ctx, key, ref); err != nil && s.logger != nil {
		s.logger.Warn("bind idempotency key", slog.Any("error", err))
	}
}

func (s *Service) restoreToken(ctx context.Context, token stepup.Token) {
	if err := s.stepUp.Restore(ctx, token); err != nil && s.logger != nil {
		s.logger.Warn("restore step-up token", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, caller identity.Identity, action string, ref uuid.UUID) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  caller.Profile.ID,
		Action:   action,
		Entity:   "transfer",
		EntityID: ref.String(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("record audit", slog.Any("error", err))
	}
}

func (s *Service) notifyOutcome(ctx context.Context, caller identity.Identity, t *Transfer) {
	if caller.Profile.Email == "" {
		return
	}
	body := fmt.Sprintf("Your transfer of %s %d (minor units) was settled.", t.Currency, t.Amount)
	if err := s.notifier.SendEmail(ctx, caller.Profile.Email, "Transfer settled", body); err != nil && s.logger != nil {
		s.logger.Warn("notify transfer outcome", slog.Any("error", err))
	}
}
