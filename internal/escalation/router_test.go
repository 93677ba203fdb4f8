package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/models"
)

type memRegistry struct {
	mu        sync.Mutex
	validated map[string]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{validated: make(map[string]string)}
}

func (m *memRegistry) IsValidated(_ context.Context, keyClass string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.validated[keyClass]
	return ok, nil
}

func (m *memRegistry) MarkValidated(_ context.Context, keyClass, validatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated[keyClass] = validatedBy
	return nil
}

type memApprovals struct {
	mu   sync.Mutex
	rows map[string]*models.Approval
}

func newMemApprovals() *memApprovals {
	return &memApprovals{rows: make(map[string]*models.Approval)}
}

func (m *memApprovals) Create(_ context.Context, a *models.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}

func (m *memApprovals) GetPending(_ context.Context, groupID string) ([]*models.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Approval
	for _, a := range m.rows {
		if a.GroupID == groupID && a.State == models.ApprovalPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memApprovals) MarkExecuted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return errors.New("approval not found")
	}
	a.State = models.ApprovalExecuted
	return nil
}

func (m *memApprovals) ExpirePending(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.rows {
		if a.State == models.ApprovalPending && now.After(a.ExpiresAt) {
			a.State = models.ApprovalExpired
			n++
		}
	}
	return n, nil
}

// fakeExecutor mirrors the real executor's contract: destructive requests
// without a token are rejected, never executed.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []*models.ActionRequest
}

func (f *fakeExecutor) RequestAction(_ context.Context, req *models.ActionRequest) error {
	if req.Destructive && req.ApprovalToken == "" {
		return errors.New("destructive action without approval token")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	f.executed = append(f.executed, &cp)
	return nil
}

type fakeCases struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCases) EnsureCases(_ context.Context, group *models.CorrelationGroup, _ *models.ScoreRecord) (*models.CaseLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	link := &models.CaseLink{
		GroupID:      group.ID,
		ParentCaseID: "case-parent",
	}
	for range group.Tenants() {
		link.ChildCaseIDs = append(link.ChildCaseIDs, "case-child")
	}
	return link, nil
}

type routerFixture struct {
	router    *Router
	registry  *memRegistry
	approvals *memApprovals
	executor  *fakeExecutor
	cases     *fakeCases
}

func newFixture(t *testing.T, cfg config.EscalationConfig) *routerFixture {
	t.Helper()
	if cfg.ApprovalTimeout == 0 {
		cfg.ApprovalTimeout = 30 * time.Minute
	}
	tokens, err := NewTokenIssuer("test-signing-key")
	require.NoError(t, err)

	f := &routerFixture{
		registry:  newMemRegistry(),
		approvals: newMemApprovals(),
		executor:  &fakeExecutor{},
		cases:     &fakeCases{},
	}
	f.router = NewRouter(func() config.EscalationConfig { return cfg },
		f.registry, f.cases, f.executor, f.approvals, tokens,
		logging.New(slog.LevelError, "text"))
	return f
}

func scoredGroup(band models.Band, tenants ...string) (*models.CorrelationGroup, *models.ScoreRecord) {
	g := &models.CorrelationGroup{
		ID:             "grp-1",
		CorrelationKey: "deadbeef",
		KeyClass:       "mfa_failure|okta|timeout",
		State:          models.GroupScored,
	}
	for _, tenant := range tenants {
		g.Members = append(g.Members, &models.Alert{ID: "a-" + tenant, TenantID: tenant})
	}
	total := map[models.Band]int{models.BandLow: 10, models.BandMedium: 70, models.BandHigh: 95}[band]
	return g, &models.ScoreRecord{GroupID: g.ID, TotalScore: total, Band: band}
}

func validate(t *testing.T, f *routerFixture, keyClass string) {
	t.Helper()
	require.NoError(t, f.registry.MarkValidated(context.Background(), keyClass, "analyst"))
}

func TestRoute_MediumEscalatesWithCases(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{})
	g, score := scoredGroup(models.BandMedium, "acme", "globex")
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionEscalated, d.Disposition)
	assert.NotNil(t, d.CaseLink)
	assert.Len(t, d.CaseLink.ChildCaseIDs, 2)
	assert.Empty(t, f.executor.executed, "medium band never triggers automated action")
	assert.Equal(t, models.GroupRouted, g.State)
}

func TestRoute_LowClosesInformational(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{})
	g, score := scoredGroup(models.BandLow, "acme")
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionClosedInformational, d.Disposition)
	assert.Nil(t, d.CaseLink, "informational close pages nobody")
	assert.Equal(t, 0, f.cases.calls)
}

func TestRoute_FirstOccurrenceForcesEscalation(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist: map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:    map[string]string{"mfa_failure": "notify_oncall"},
	})
	g, score := scoredGroup(models.BandHigh, "acme")

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionEscalated, d.Disposition)
	assert.True(t, d.FirstOccurrence)
	assert.True(t, g.HasFlag(models.FlagFirstOccurrence))
	assert.Empty(t, f.executor.executed,
		"unvalidated pattern must not trigger automated action even on HIGH")
}

func TestRoute_LowConfidenceDataForcesEscalation(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{})
	g, score := scoredGroup(models.BandLow, "acme")
	g.AddFlag(models.FlagLowConfidenceData)
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionEscalated, d.Disposition)
	assert.True(t, d.ForcedEscalate)
	assert.NotNil(t, d.CaseLink)
}

func TestRoute_LowConfidenceDataSuppressesActionsOnHigh(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist:    map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:       map[string]string{"mfa_failure": "revoke_sessions"},
		DestructiveActions: []string{"revoke_sessions"},
	})
	g, score := scoredGroup(models.BandHigh, "acme")
	g.AddFlag(models.FlagLowConfidenceData)
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionEscalated, d.Disposition)
	assert.True(t, d.ForcedEscalate)
	assert.Empty(t, d.PendingActions)
	assert.Empty(t, f.executor.executed,
		"insufficient evidence must not drive actions, whatever the band")

	pending, err := f.approvals.GetPending(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRoute_HighNonDestructiveActionExecutesImmediately(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist: map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:    map[string]string{"mfa_failure": "notify_oncall"},
	})
	g, score := scoredGroup(models.BandHigh, "acme", "globex")
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionEscalated, d.Disposition)
	assert.NotNil(t, d.CaseLink, "automated action still escalates for human confirmation")

	require.Len(t, f.executor.executed, 1, "only the allowlisted tenant gets an action")
	assert.Equal(t, "notify_oncall", f.executor.executed[0].ActionType)
	assert.Equal(t, "acme", f.executor.executed[0].TenantID)
	assert.False(t, f.executor.executed[0].Destructive)
}

func TestRoute_HighDestructiveActionWaitsForApproval(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist:    map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:       map[string]string{"mfa_failure": "revoke_sessions"},
		DestructiveActions: []string{"revoke_sessions"},
	})
	g, score := scoredGroup(models.BandHigh, "acme")
	validate(t, f, g.KeyClass)

	d, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionAutoActionPending, d.Disposition)
	require.Len(t, d.PendingActions, 1)
	assert.Equal(t, models.ApprovalPending, d.PendingActions[0].State)
	assert.Empty(t, f.executor.executed, "destructive action must not run before approval")
}

func TestConfirm_ExecutesPendingWithToken(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist:    map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:       map[string]string{"mfa_failure": "revoke_sessions"},
		DestructiveActions: []string{"revoke_sessions"},
	})
	g, score := scoredGroup(models.BandHigh, "acme")
	validate(t, f, g.KeyClass)

	_, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)

	require.NoError(t, f.router.Confirm(context.Background(), g, "analyst"))

	require.Len(t, f.executor.executed, 1)
	req := f.executor.executed[0]
	assert.True(t, req.Destructive)
	assert.NotEmpty(t, req.ApprovalToken)

	pending, err := f.approvals.GetPending(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "approval is marked executed")
}

func TestConfirm_ExpiredApprovalNeverExecutes(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist:    map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:       map[string]string{"mfa_failure": "revoke_sessions"},
		DestructiveActions: []string{"revoke_sessions"},
		ApprovalTimeout:    30 * time.Minute,
	})
	g, score := scoredGroup(models.BandHigh, "acme")
	validate(t, f, g.KeyClass)

	_, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)

	// Confirmation arrives after the window.
	f.router.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, f.router.Confirm(context.Background(), g, "analyst"))
	assert.Empty(t, f.executor.executed, "expired approval is fail-closed")
}

func TestConfirm_MarksPatternValidated(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{})
	g, score := scoredGroup(models.BandMedium, "acme")

	_, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)
	require.NoError(t, f.router.Confirm(context.Background(), g, "analyst"))

	validated, err := f.registry.IsValidated(context.Background(), g.KeyClass)
	require.NoError(t, err)
	assert.True(t, validated)

	// The next occurrence of the pattern follows normal banding.
	g2, score2 := scoredGroup(models.BandLow, "acme")
	d, err := f.router.Route(context.Background(), g2, score2)
	require.NoError(t, err)
	assert.Equal(t, models.DispositionClosedInformational, d.Disposition)
}

func TestExpireApprovals(t *testing.T) {
	f := newFixture(t, config.EscalationConfig{
		ActionAllowlist:    map[string][]string{"acme": {"mfa_failure"}},
		ClassActions:       map[string]string{"mfa_failure": "disable_account"},
		DestructiveActions: []string{"disable_account"},
		ApprovalTimeout:    time.Minute,
	})
	g, score := scoredGroup(models.BandHigh, "acme")
	validate(t, f, g.KeyClass)

	_, err := f.router.Route(context.Background(), g, score)
	require.NoError(t, err)

	f.router.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err := f.router.ExpireApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.approvals.GetPending(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
