package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-bank/meridian/internal/application"
	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/notify"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
	"github.com/meridian-bank/meridian/internal/transfer"
)

const idempotencyModule = "approval.decide"

// StepUp redeems the administrator's step-up token before a decision is
// recorded. Satisfied by stepup.Authenticator.
type StepUp interface {
	Consume(ctx context.Context, id string, userID int64, action string) (stepup.Token, error)
	Restore(ctx context.Context, token stepup.Token) error
}

// IdempotencyStore reserves decide idempotency keys. Satisfied by
// shared.IdempotencyStore.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, module string) (uuid.UUID, bool, error)
	Bind(ctx context.Context, key string, ref uuid.UUID) error
	Release(ctx context.Context, key string) error
}

// Applications is the slice of the application workflow the review queue
// needs. Satisfied by application.Service.
type Applications interface {
	ListPending(ctx context.Context) ([]application.Application, error)
}

// Transfers is the slice of the transfer workflow the review queue needs.
// Satisfied by transfer.Service.
type Transfers interface {
	ListPendingReview(ctx context.Context) ([]transfer.Transfer, error)
	SettleReviewed(ctx context.Context, transferID uuid.UUID) (*transfer.Transfer, error)
	RejectReviewed(ctx context.Context, transferID uuid.UUID) (*transfer.Transfer, error)
}

// ProfileDirectory resolves customer profiles for notifications. Satisfied by
// identity.PGRepository.
type ProfileDirectory interface {
	CustomerProfileByID(ctx context.Context, profileID int64) (*identity.Profile, error)
}

// AuditRecorder persists audit entries. Satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the administrator approval workflow.
type Service struct {
	decisions    Repository
	applications application.Repository
	appQueue     Applications
	transfers    Transfers
	accounts     ledger.Repository
	profiles     ProfileDirectory
	stepUp       StepUp
	idempotency  IdempotencyStore
	audit        AuditRecorder
	notifier     notify.Notifier
	metrics      *observability.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// ServiceConfig wires the approval service dependencies.
type ServiceConfig struct {
	Decisions    Repository
	Applications application.Repository
	AppQueue     Applications
	Transfers    Transfers
	Accounts     ledger.Repository
	Profiles     ProfileDirectory
	StepUp       StepUp
	Idempotency  IdempotencyStore
	Audit        AuditRecorder
	Notifier     notify.Notifier
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// NewService constructs the approval service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NopNotifier{}
	}
	return &Service{
		decisions:    cfg.Decisions,
		applications: cfg.Applications,
		appQueue:     cfg.AppQueue,
		transfers:    cfg.Transfers,
		accounts:     cfg.Accounts,
		profiles:     cfg.Profiles,
		stepUp:       cfg.StepUp,
		idempotency:  cfg.Idempotency,
		audit:        cfg.Audit,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// ListPending merges pending applications and flagged transfers into one
// queue, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]QueueItem, error) {
	apps, err := s.appQueue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending applications: %w", err)
	}
	flagged, err := s.transfers.ListPendingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flagged transfers: %w", err)
	}

	items := make([]QueueItem, 0, len(apps)+len(flagged))
	for _, a := range apps {
		items = append(items, QueueItem{Subject: SubjectApplication, RefID: a.ID, SubmittedAt: a.SubmittedAt, Summary: a})
	}
	for _, t := range flagged {
		items = append(items, QueueItem{Subject: SubjectTransfer, RefID: t.ID, SubmittedAt: t.CreatedAt, Summary: t})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SubmittedAt.Before(items[j].SubmittedAt) })
	return items, nil
}

// DecideApplication records the decision for a pending application. The
// conditional update in the store picks a single winner when two
// administrators race; the loser gets ErrAlreadyDecided and the stored record
// keeps the first decision. A replayed idempotency key returns the decision
// the first call recorded. The step-up token re-confirms the administrator
// and is consumed exactly once.
//
// Approving a new-account or new-card application creates the backing account
// with zero balance. If that insert fails the application is put back under
// review and the decision is not recorded.
func (s *Service) DecideApplication(ctx context.Context, caller identity.Identity, appID uuid.UUID, req DecideRequest) (*Decision, error) {
	if req.Outcome != OutcomeApproved && req.Outcome != OutcomeRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, req.Outcome)
	}

	ref, replay, err := s.idempotency.Reserve(ctx, req.IdempotencyKey, idempotencyModule)
	if err != nil {
		return nil, err
	}
	if replay {
		if ref != appID {
			return nil, shared.ErrIdempotencyConflict
		}
		return s.decisions.DecisionFor(ctx, SubjectApplication, appID)
	}

	app, err := s.applications.Get(ctx, appID)
	if err != nil {
		s.releaseKey(ctx, req.IdempotencyKey)
		return nil, err
	}

	token, err := s.stepUp.Consume(ctx, req.StepUpToken, caller.UserID, stepup.ActionApprovalDecide)
	if err != nil {
		s.releaseKey(ctx, req.IdempotencyKey)
		return nil, err
	}

	target := application.StateApproved
	if req.Outcome == OutcomeRejected {
		target = application.StateRejected
	}
	now := s.now().UTC()
	won, err := s.applications.Decide(ctx, appID, target, caller.Profile.ID, now)
	if err != nil {
		s.restoreToken(ctx, token)
		s.releaseKey(ctx, req.IdempotencyKey)
		return nil, fmt.Errorf("decide application: %w", err)
	}
	if !won {
		s.releaseKey(ctx, req.IdempotencyKey)
		return nil, ErrAlreadyDecided
	}

	if req.Outcome == OutcomeApproved {
		if err := s.performFollowOn(ctx, app); err != nil {
			if ok, revertErr := s.applications.RevertDecision(ctx, appID, application.StateApproved); revertErr != nil || !ok {
				s.logger.Error("revert approval after follow-on failure",
					slog.String("application_id", appID.String()), slog.Any("error", revertErr))
			}
			s.restoreToken(ctx, token)
			s.releaseKey(ctx, req.IdempotencyKey)
			return nil, fmt.Errorf("%w: %v", ErrFollowOnFailed, err)
		}
	}

	decision := Decision{
		ID:        uuid.New(),
		Subject:   SubjectApplication,
		RefID:     appID,
		Outcome:   req.Outcome,
		Reason:    req.Reason,
		DecidedBy: caller.Profile.ID,
		DecidedAt: now,
	}
	if err := s.decisions.RecordDecision(ctx, decision); err != nil {
		s.logger.Error("record decision", slog.String("application_id", appID.String()), slog.Any("error", err))
	}
	s.bindKey(ctx, req.IdempotencyKey, appID)
	s.metrics.DecisionOutcome(string(req.Outcome))
	s.recordAudit(ctx, caller, "approval.application."+string(req.Outcome), appID)
	s.notifyApplicant(ctx, app, req.Outcome)
	return &decision, nil
}

// performFollowOn creates the account an approved application entails.
// Loan disbursement happens downstream of approval and is not modelled here.
func (s *Service) performFollowOn(ctx context.Context, app *application.Application) error {
	var accountType ledger.AccountType
	switch app.Kind {
	case application.KindNewAccount:
		if app.Params.AccountType == nil {
			return fmt.Errorf("application %s has no account type", app.ID)
		}
		accountType = *app.Params.AccountType
	case application.KindNewCard:
		accountType = ledger.AccountTypeCard
	default:
		return nil
	}

	account := ledger.Account{
		ID:             uuid.New(),
		OwnerProfileID: app.ApplicantProfileID,
		Type:           accountType,
		Currency:       app.Params.Currency,
		Balance:        0,
		Status:         ledger.AccountStatusActive,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// DecideTransfer settles or rejects a transfer held for review, under the
// same step-up and idempotency discipline as DecideApplication.
func (s *Service) DecideTransfer(ctx context.Context, caller identity.Identity, transferID uuid.UUID, req DecideRequest) (*Decision, error) {
	if req.Outcome != OutcomeApproved && req.Outcome != OutcomeRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, req.Outcome)
	}

	ref, replay, err := s.idempotency.Reserve(ctx, req.IdempotencyKey, idempotencyModule)
	if err != nil {
		return nil, err
	}
	if replay {
		if ref != transferID {
			return nil, shared.ErrIdempotencyConflict
		}
		return s.decisions.DecisionFor(ctx, SubjectTransfer, transferID)
	}

	token, err := s.stepUp.Consume(ctx, req.StepUpToken, caller.UserID, stepup.ActionApprovalDecide)
	if err != nil {
		s.releaseKey(ctx, req.IdempotencyKey)
		return nil, err
	}

	if req.Outcome == OutcomeApproved {
		_, err = s.transfers.SettleReviewed(ctx, transferID)
	} else {
		_, err = s.transfers.RejectReviewed(ctx, transferID)
	}
	if err != nil {
		s.releaseKey(ctx, req.IdempotencyKey)
		if errors.Is(err, transfer.ErrStateConflict) {
			return nil, ErrAlreadyDecided
		}
		s.restoreToken(ctx, token)
		return nil, err
	}

	decision := Decision{
		ID:        uuid.New(),
		Subject:   SubjectTransfer,
		RefID:     transferID,
		Outcome:   req.Outcome,
		Reason:    req.Reason,
		DecidedBy: caller.Profile.ID,
		DecidedAt: s.now().UTC(),
	}
	if err := s.decisions.RecordDecision(ctx, decision); err != nil {
		s.logger.Error("record decision", slog.String("transfer_id", transferID.String()), slog.Any("error", err))
	}
	s.bindKey(ctx, req.IdempotencyKey, transferID)
	s.metrics.DecisionOutcome(string(req.Outcome))
	s.recordAudit(ctx, caller, "approval.transfer."+string(req.Outcome), transferID)
	return &decision, nil
}

// DecisionFor returns the recorded decision for a subject.
func (s *Service) DecisionFor(ctx context.Context, subject Subject, refID uuid.UUID) (*Decision, error) {
	return s.decisions.DecisionFor(ctx, subject, refID)
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (s *Service) bindKey(ctx context.Context, key string, ref uuid.UUID) {
	if err := s.idempotency.Bind(ctx, key, ref); err != nil {
		s.logger.Warn("bind idempotency key", slog.Any("error", err))
	}
}

func (s *Service) restoreToken(ctx context.Context, token stepup.Token) {
	if err := s.stepUp.Restore(ctx, token); err != nil {
		s.logger.Warn("restore step-up token", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, caller identity.Identity, action string, ref uuid.UUID) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  caller.Profile.ID,
		Action:   action,
		Entity:   "approval",
		EntityID: ref.String(),
		At:       s.now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) notifyApplicant(ctx context.Context, app *application.Application, outcome Outcome) {
	if s.profiles == nil {
		return
	}
	profile, err := s.profiles.CustomerProfileByID(ctx, app.ApplicantProfileID)
	if err != nil || profile.Email == "" {
		return
	}
	verb := "approved"
	if outcome == OutcomeRejected {
		verb = "rejected"
	}
	body := fmt.Sprintf("Your %s application has been %s.", app.Kind, verb)
	if err := s.notifier.SendEmail(ctx, profile.Email, "Application decision", body); err != nil {
		s.logger.Warn("notify applicant", slog.Any("error", err))
	}
}
