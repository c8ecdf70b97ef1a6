package approval_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-bank/meridian/internal/application"
	"github.com/meridian-bank/meridian/internal/approval"
	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
	"github.com/meridian-bank/meridian/internal/transfer"
)

// mockApplications mirrors the conditional-update semantics of the Postgres
// application repository.
type mockApplications struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*application.Application
}

func newMockApplications() *mockApplications {
	return &mockApplications{apps: make(map[uuid.UUID]*application.Application)}
}

func (m *mockApplications) add(a application.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.apps[a.ID] = &cp
}

func (m *mockApplications) Create(ctx context.Context, a application.Application) error {
	m.add(a)
	return nil
}

func (m *mockApplications) Get(ctx context.Context, id uuid.UUID) (*application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockApplications) ListByApplicant(ctx context.Context, applicant int64) ([]application.Application, error) {
	return nil, nil
}

func (m *mockApplications) ListPending(ctx context.Context) ([]application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []application.Application
	for _, a := range m.apps {
		if a.Pending() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockApplications) Transition(ctx context.Context, id uuid.UUID, from []application.State, to application.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
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

func (m *mockApplications) Decide(ctx context.Context, id uuid.UUID, outcome application.State, decidedBy int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || !a.Pending() {
		return false, nil
	}
	a.State = outcome
	a.DecidedBy = &decidedBy
	a.DecidedAt = &at
	return true, nil
}

func (m *mockApplications) RevertDecision(ctx context.Context, id uuid.UUID, from application.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || a.State != from {
		return false, nil
	}
	a.State = application.StateUnderReview
	a.DecidedBy = nil
	a.DecidedAt = nil
	return true, nil
}

var _ application.Repository = (*mockApplications)(nil)

// mockDecisions records decisions in memory.
type mockDecisions struct {
	mu        sync.Mutex
	decisions map[string]approval.Decision
}

func newMockDecisions() *mockDecisions {
	return &mockDecisions{decisions: make(map[string]approval.Decision)}
}

func (m *mockDecisions) RecordDecision(ctx context.Context, d approval.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(d.Subject) + "/" + d.RefID.String()
	if _, exists := m.decisions[key]; exists {
		return errors.New("duplicate decision")
	}
	m.decisions[key] = d
	return nil
}

func (m *mockDecisions) DecisionFor(ctx context.Context, subject approval.Subject, refID uuid.UUID) (*approval.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[string(subject)+"/"+refID.String()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &d, nil
}

func (m *mockDecisions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

// mockAccounts stores accounts and optionally fails creation.
type mockAccounts struct {
	mu        sync.Mutex
	accounts  []ledger.Account
	createErr error
}

func (m *mockAccounts) ReadAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return nil, shared.ErrNotFound
}

func (m *mockAccounts) AccountsByOwner(ctx context.Context, owner int64) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Account
	for _, a := range m.accounts {
		if a.OwnerProfileID == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccounts) CreateAccount(ctx context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.accounts = append(m.accounts, account)
	return nil
}

// mockTransfers serves the review-queue slice of the transfer workflow.
type mockTransfers struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*transfer.Transfer
}

func newMockTransfers() *mockTransfers {
	return &mockTransfers{pending: make(map[uuid.UUID]*transfer.Transfer)}
}

func (m *mockTransfers) add(t transfer.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := t
	m.pending[t.ID] = &cp
}

func (m *mockTransfers) ListPendingReview(ctx context.Context) ([]transfer.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transfer.Transfer
	for _, t := range m.pending {
		if t.State == transfer.StatePendingReview {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTransfers) SettleReviewed(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	return m.transition(id, transfer.StateCommitted)
}

func (m *mockTransfers) RejectReviewed(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	return m.transition(id, transfer.StateRejected)
}

func (m *mockTransfers) transition(id uuid.UUID, to transfer.State) (*transfer.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.pending[id]
	if !ok || t.State != transfer.StatePendingReview {
		return nil, transfer.ErrStateConflict
	}
	t.State = to
	cp := *t
	return &cp, nil
}

// mockIdem is an in-memory idempotency store with reserve/bind semantics.
type mockIdem struct {
	mu   sync.Mutex
	keys map[string]*uuid.UUID
}

func newMockIdem() *mockIdem {
	return &mockIdem{keys: make(map[string]*uuid.UUID)}
}

func (m *mockIdem) Reserve(ctx context.Context, key, module string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.keys[key]; ok {
		if ref == nil {
			return uuid.Nil, false, shared.ErrIdempotencyConflict
		}
		return *ref, true, nil
	}
	m.keys[key] = nil
	return uuid.Nil, false, nil
}

func (m *mockIdem) Bind(ctx context.Context, key string, ref uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = &ref
	return nil
}

func (m *mockIdem) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type adminVerifier struct{}

func (adminVerifier) VerifyCredential(ctx context.Context, userID int64, credential string) (bool, error) {
	return credential == "admin-pin-1234", nil
}

func admin(profileID int64) identity.Identity {
	return identity.Identity{
		UserID:  profileID + 500,
		Role:    identity.RoleAdministrator,
		Profile: identity.Profile{ID: profileID, UserID: profileID + 500},
	}
}

func accountTypePtr(t ledger.AccountType) *ledger.AccountType { return &t }

type fixture struct {
	service   *approval.Service
	apps      *mockApplications
	decisions *mockDecisions
	accounts  *mockAccounts
	transfers *mockTransfers
	stepUp    *stepup.Authenticator
	idem      *mockIdem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	stepUpAuth := stepup.NewAuthenticator(adminVerifier{}, stepup.NewRedisTokenStore(client), 5*time.Minute)

	apps := newMockApplications()
	decisions := newMockDecisions()
	accounts := &mockAccounts{}
	transfers := newMockTransfers()
	idem := newMockIdem()
	svc := approval.NewService(approval.ServiceConfig{
		Decisions:    decisions,
		Applications: apps,
		AppQueue:     apps,
		Transfers:    transfers,
		Accounts:     accounts,
		StepUp:       stepUpAuth,
		Idempotency:  idem,
	})
	return &fixture{
		service:   svc,
		apps:      apps,
		decisions: decisions,
		accounts:  accounts,
		transfers: transfers,
		stepUp:    stepUpAuth,
		idem:      idem,
	}
}

// request builds a decide payload with a fresh step-up token for the caller.
func (f *fixture) request(t *testing.T, caller identity.Identity, outcome approval.Outcome, reason string) approval.DecideRequest {
	t.Helper()
	token, err := f.stepUp.Verify(context.Background(), caller.UserID, "admin-pin-1234", stepup.ActionApprovalDecide)
	if err != nil {
		t.Fatalf("step-up verify: %v", err)
	}
	return approval.DecideRequest{
		Outcome:        outcome,
		Reason:         reason,
		StepUpToken:    token.ID,
		IdempotencyKey: "decide-" + uuid.NewString(),
	}
}

func pendingAccountApplication(applicant int64, at time.Time) application.Application {
	return application.Application{
		ID:                 uuid.New(),
		ApplicantProfileID: applicant,
		Kind:               application.KindNewAccount,
		Params: application.Parameters{
			AccountType: accountTypePtr(ledger.AccountTypeSavings),
			Currency:    "EUR",
		},
		State:       application.StateSubmitted,
		SubmittedAt: at,
	}
}

func TestApproveAccountApplicationCreatesAccount(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	caller := admin(50)
	decision, err := f.service.DecideApplication(context.Background(), caller, app.ID, f.request(t, caller, approval.OutcomeApproved, "looks good"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeApproved, decision.Outcome)
	assert.Equal(t, int64(50), decision.DecidedBy)

	got, err := f.apps.Get(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StateApproved, got.State)

	accounts, err := f.accounts.AccountsByOwner(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ledger.AccountTypeSavings, accounts[0].Type)
	assert.Equal(t, int64(0), accounts[0].Balance)
	assert.Equal(t, ledger.AccountStatusActive, accounts[0].Status)
	assert.Equal(t, "EUR", accounts[0].Currency)
}

func TestApproveCardApplicationCreatesCardAccount(t *testing.T) {
	f := newFixture(t)
	product := "GOLD"
	app := application.Application{
		ID:                 uuid.New(),
		ApplicantProfileID: 10,
		Kind:               application.KindNewCard,
		Params:             application.Parameters{CardProduct: &product, Currency: "EUR"},
		State:              application.StateSubmitted,
		SubmittedAt:        time.Now(),
	}
	f.apps.add(app)

	caller := admin(50)
	_, err := f.service.DecideApplication(context.Background(), caller, app.ID, f.request(t, caller, approval.OutcomeApproved, ""))
	require.NoError(t, err)

	accounts, err := f.accounts.AccountsByOwner(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ledger.AccountTypeCard, accounts[0].Type)
}

func TestRejectApplicationCreatesNoAccount(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	caller := admin(50)
	decision, err := f.service.DecideApplication(context.Background(), caller, app.ID, f.request(t, caller, approval.OutcomeRejected, "insufficient history"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeRejected, decision.Outcome)
	assert.Equal(t, "insufficient history", decision.Reason)

	got, _ := f.apps.Get(context.Background(), app.ID)
	assert.Equal(t, application.StateRejected, got.State)

	accounts, _ := f.accounts.AccountsByOwner(context.Background(), 10)
	assert.Empty(t, accounts)
}

func TestDecideApplicationSingleWinner(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	const racers = 8
	callers := make([]identity.Identity, racers)
	reqs := make([]approval.DecideRequest, racers)
	for i := 0; i < racers; i++ {
		callers[i] = admin(int64(50 + i))
		outcome := approval.OutcomeApproved
		if i%2 == 1 {
			outcome = approval.OutcomeRejected
		}
		reqs[i] = f.request(t, callers[i], outcome, "")
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.DecideApplication(context.Background(), callers[i], app.ID, reqs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, approval.ErrAlreadyDecided)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.decisions.count())

	got, _ := f.apps.Get(context.Background(), app.ID)
	assert.False(t, got.Pending())
}

func TestDecideAlreadyDecidedApplication(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	first := admin(50)
	_, err := f.service.DecideApplication(context.Background(), first, app.ID, f.request(t, first, approval.OutcomeRejected, ""))
	require.NoError(t, err)

	second := admin(51)
	_, err = f.service.DecideApplication(context.Background(), second, app.ID, f.request(t, second, approval.OutcomeApproved, ""))
	require.ErrorIs(t, err, approval.ErrAlreadyDecided)

	got, _ := f.apps.Get(context.Background(), app.ID)
	assert.Equal(t, application.StateRejected, got.State, "first decision must stand")
}

func TestDecideReplayReturnsOriginalDecision(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	caller := admin(50)
	req := f.request(t, caller, approval.OutcomeApproved, "ok")
	first, err := f.service.DecideApplication(context.Background(), caller, app.ID, req)
	require.NoError(t, err)

	// Same key, same record: the retried call must observe the recorded
	// decision, not a conflict, and nothing may apply twice.
	second, err := f.service.DecideApplication(context.Background(), caller, app.ID, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.decisions.count())

	accounts, _ := f.accounts.AccountsByOwner(context.Background(), 10)
	assert.Len(t, accounts, 1)
}

func TestDecideReplayForDifferentRecordIsRefused(t *testing.T) {
	f := newFixture(t)
	appA := pendingAccountApplication(10, time.Now())
	appB := pendingAccountApplication(11, time.Now())
	f.apps.add(appA)
	f.apps.add(appB)

	caller := admin(50)
	req := f.request(t, caller, approval.OutcomeApproved, "")
	_, err := f.service.DecideApplication(context.Background(), caller, appA.ID, req)
	require.NoError(t, err)

	reqB := f.request(t, caller, approval.OutcomeApproved, "")
	reqB.IdempotencyKey = req.IdempotencyKey
	_, err = f.service.DecideApplication(context.Background(), caller, appB.ID, reqB)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	got, _ := f.apps.Get(context.Background(), appB.ID)
	assert.True(t, got.Pending(), "second application must stay pending")
}

func TestDecideConsumesStepUpTokenOnce(t *testing.T) {
	f := newFixture(t)
	appA := pendingAccountApplication(10, time.Now())
	appB := pendingAccountApplication(11, time.Now())
	f.apps.add(appA)
	f.apps.add(appB)

	caller := admin(50)
	req := f.request(t, caller, approval.OutcomeApproved, "")
	_, err := f.service.DecideApplication(context.Background(), caller, appA.ID, req)
	require.NoError(t, err)

	reused := approval.DecideRequest{
		Outcome:        approval.OutcomeApproved,
		StepUpToken:    req.StepUpToken,
		IdempotencyKey: "decide-" + uuid.NewString(),
	}
	_, err = f.service.DecideApplication(context.Background(), caller, appB.ID, reused)
	require.ErrorIs(t, err, stepup.ErrStaleToken)

	got, _ := f.apps.Get(context.Background(), appB.ID)
	assert.True(t, got.Pending())
}

func TestApprovalRevertsWhenAccountCreationFails(t *testing.T) {
	f := newFixture(t)
	f.accounts.createErr = errors.New("constraint violated")
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	caller := admin(50)
	req := f.request(t, caller, approval.OutcomeApproved, "")
	_, err := f.service.DecideApplication(context.Background(), caller, app.ID, req)
	require.ErrorIs(t, err, approval.ErrFollowOnFailed)

	got, _ := f.apps.Get(context.Background(), app.ID)
	assert.Equal(t, application.StateUnderReview, got.State)
	assert.Nil(t, got.DecidedBy)
	assert.Equal(t, 0, f.decisions.count())

	// Token and key were given back; the same request succeeds once the
	// underlying fault clears.
	f.accounts.createErr = nil
	decision, err := f.service.DecideApplication(context.Background(), caller, app.ID, req)
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeApproved, decision.Outcome)
}

func TestDecideApplicationInvalidOutcome(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	req := approval.DecideRequest{Outcome: "ESCALATED", StepUpToken: "token", IdempotencyKey: "decide-invalid-1"}
	_, err := f.service.DecideApplication(context.Background(), admin(50), app.ID, req)
	require.ErrorIs(t, err, approval.ErrInvalidOutcome)
}

func TestListPendingMergesOldestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)

	newest := pendingAccountApplication(10, base.Add(30*time.Minute))
	oldest := pendingAccountApplication(11, base)
	f.apps.add(newest)
	f.apps.add(oldest)

	flagged := transfer.Transfer{
		ID:              uuid.New(),
		SourceAccountID: uuid.New(),
		Amount:          500_000,
		Currency:        "EUR",
		State:           transfer.StatePendingReview,
		CreatedAt:       base.Add(15 * time.Minute),
	}
	f.transfers.add(flagged)

	items, err := f.service.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, oldest.ID, items[0].RefID)
	assert.Equal(t, flagged.ID, items[1].RefID)
	assert.Equal(t, approval.SubjectTransfer, items[1].Subject)
	assert.Equal(t, newest.ID, items[2].RefID)
}

func TestDecideTransferApprovesSettlement(t *testing.T) {
	f := newFixture(t)
	flagged := transfer.Transfer{
		ID:        uuid.New(),
		Amount:    500_000,
		Currency:  "EUR",
		State:     transfer.StatePendingReview,
		CreatedAt: time.Now(),
	}
	f.transfers.add(flagged)

	first := admin(50)
	decision, err := f.service.DecideTransfer(context.Background(), first, flagged.ID, f.request(t, first, approval.OutcomeApproved, ""))
	require.NoError(t, err)
	assert.Equal(t, approval.SubjectTransfer, decision.Subject)

	listed, _ := f.transfers.ListPendingReview(context.Background())
	assert.Empty(t, listed)

	second := admin(51)
	_, err = f.service.DecideTransfer(context.Background(), second, flagged.ID, f.request(t, second, approval.OutcomeRejected, ""))
	require.ErrorIs(t, err, approval.ErrAlreadyDecided)
}

func TestDecideTransferReplayReturnsOriginalDecision(t *testing.T) {
	f := newFixture(t)
	flagged := transfer.Transfer{
		ID:        uuid.New(),
		Amount:    750_000,
		Currency:  "EUR",
		State:     transfer.StatePendingReview,
		CreatedAt: time.Now(),
	}
	f.transfers.add(flagged)

	caller := admin(50)
	req := f.request(t, caller, approval.OutcomeRejected, "source unclear")
	first, err := f.service.DecideTransfer(context.Background(), caller, flagged.ID, req)
	require.NoError(t, err)

	second, err := f.service.DecideTransfer(context.Background(), caller, flagged.ID, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "source unclear", second.Reason)
	assert.Equal(t, 1, f.decisions.count())
}

func TestDecisionForReturnsRecordedDecision(t *testing.T) {
	f := newFixture(t)
	app := pendingAccountApplication(10, time.Now())
	f.apps.add(app)

	caller := admin(50)
	want, err := f.service.DecideApplication(context.Background(), caller, app.ID, f.request(t, caller, approval.OutcomeRejected, "policy"))
	require.NoError(t, err)

	got, err := f.service.DecisionFor(context.Background(), approval.SubjectApplication, app.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "policy", got.Reason)

	_, err = f.service.DecisionFor(context.Background(), approval.SubjectTransfer, app.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
