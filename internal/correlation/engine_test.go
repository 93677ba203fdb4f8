package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/models"
)

func testConfig() config.CorrelationConfig {
	return config.CorrelationConfig{
		WindowDuration: 15 * time.Minute,
		WindowCap:      time.Hour,
		BurstThreshold: 500,
		SweepInterval:  5 * time.Second,
		LockRetries:    3,
	}
}

func newTestEngine(t *testing.T, cfg config.CorrelationConfig) *Engine {
	t.Helper()
	keyer := NewKeyer(defaultSynonyms)
	return NewEngine(func() config.CorrelationConfig { return cfg }, keyer,
		logging.New(slog.LevelError, "text"))
}

func newAlert(tenant, alertType, provider, reason string) *models.Alert {
	return &models.Alert{
		ID:           uuid.Must(uuid.NewV7()).String(),
		TenantID:     tenant,
		SourceSystem: "okta",
		AlertType:    alertType,
		Severity:     "medium",
		TimestampUTC: time.Now().UTC(),
		Correlation: models.CorrelationFields{
			ServiceOrProvider:  provider,
			FailureReasonClass: reason,
		},
	}
}

func TestIngest_SameKeyGroupsAcrossTenants(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	r1, err := e.Ingest(ctx, newAlert("acme", "MFA Failure", "Okta", "timeout"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, r1.Outcome)

	// Different tenant, vendor-styled naming of the same condition.
	r2, err := e.Ingest(ctx, newAlert("globex", "mfa-denied", "OKTA", "Timeout"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, r2.Outcome)
	assert.Equal(t, r1.GroupID, r2.GroupID, "synonym and case variants share one group")
	assert.Equal(t, 1, e.OpenCount())
}

func TestIngest_DistinctKeysOpenDistinctGroups(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	r1, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)
	r2, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "rejected"))
	require.NoError(t, err)

	assert.NotEqual(t, r1.GroupID, r2.GroupID)
	assert.Equal(t, 2, e.OpenCount())
}

func TestIngest_DuplicateMemberAppendedOnce(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	a := newAlert("acme", "mfa_failure", "okta", "timeout")
	_, err := e.Ingest(ctx, a)
	require.NoError(t, err)
	_, err = e.Ingest(ctx, a)
	require.NoError(t, err)

	e.mu.Lock()
	var members int
	for _, ent := range e.groups {
		members = len(ent.group.MemberAlertIDs)
	}
	e.mu.Unlock()
	assert.Equal(t, 1, members)
}

func TestIngest_SlidingWindowExtendsAndCaps(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	base := time.Now()
	e.now = func() time.Time { return base }

	_, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)

	// Ten minutes later an append slides the end out to t+25m.
	e.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, err = e.Ingest(ctx, newAlert("globex", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)

	var g *models.CorrelationGroup
	e.mu.Lock()
	for _, ent := range e.groups {
		g = ent.group
	}
	e.mu.Unlock()
	require.NotNil(t, g)
	assert.Equal(t, base.Add(25*time.Minute), g.WindowEnd)

	// An append near the cap clamps at windowStart+cap, never beyond.
	e.now = func() time.Time { return base.Add(55 * time.Minute) }
	_, err = e.Ingest(ctx, newAlert("initech", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)
	assert.Equal(t, base.Add(cfg.WindowCap), g.WindowEnd)
}

func TestIngest_BurstClosesEarlyAndReopens(t *testing.T) {
	cfg := testConfig()
	cfg.BurstThreshold = 500
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	var closed *models.CorrelationGroup
	var firstGroupID string
	for i := 0; i < 520; i++ {
		a := newAlert("acme", "login_failure", "entra", "password")
		a.ID = fmt.Sprintf("alert-%04d", i)
		r, err := e.Ingest(ctx, a)
		require.NoError(t, err)

		switch i {
		case 0:
			firstGroupID = r.GroupID
		case 499:
			require.Equal(t, OutcomeClosedEarly, r.Outcome)
			closed = r.Closed
		case 500:
			assert.Equal(t, OutcomeOpened, r.Outcome, "alert after burst close opens a new group")
			assert.NotEqual(t, firstGroupID, r.GroupID)
		}
	}

	require.NotNil(t, closed)
	assert.Len(t, closed.MemberAlertIDs, 500)
	assert.True(t, closed.HasFlag(models.FlagBurst))
	assert.Equal(t, models.GroupClosed, closed.State)

	// Handoff is exactly once, via the channel.
	select {
	case g := <-e.Closed():
		assert.Equal(t, closed.ID, g.ID)
	default:
		t.Fatal("burst-closed group not delivered")
	}

	e.mu.Lock()
	var remainder int
	for _, ent := range e.groups {
		remainder = len(ent.group.MemberAlertIDs)
	}
	e.mu.Unlock()
	assert.Equal(t, 20, remainder)
}

func TestSweep_ClosesExpiredGroupsOnce(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	base := time.Now()
	e.now = func() time.Time { return base }

	_, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, newAlert("acme", "phishing", "proofpoint", "delivered"))
	require.NoError(t, err)

	s := NewSweeper(e)

	// Nothing has expired yet.
	assert.Equal(t, 0, s.Sweep(ctx))

	e.now = func() time.Time { return base.Add(16 * time.Minute) }
	assert.Equal(t, 2, s.Sweep(ctx))
	assert.Equal(t, 0, e.OpenCount())

	for i := 0; i < 2; i++ {
		select {
		case g := <-e.Closed():
			assert.Equal(t, models.GroupClosed, g.State)
		default:
			t.Fatal("expired group not delivered")
		}
	}

	// Second sweep finds nothing; no double delivery.
	assert.Equal(t, 0, s.Sweep(ctx))
	select {
	case g := <-e.Closed():
		t.Fatalf("group %s delivered twice", g.ID)
	default:
	}
}

func TestIngest_OverflowGroupFlagged(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	a := newAlert("acme", "mfa_failure", "okta", "timeout")
	key, class := e.keyer.Key(a)

	r, err := e.ingestOverflow(ctx, a, key, class, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOverflow, r.Outcome)

	e.mu.Lock()
	ent := e.groups[key+"#overflow"]
	e.mu.Unlock()
	require.NotNil(t, ent)
	assert.True(t, ent.group.HasFlag(models.FlagOverflow))
	assert.Equal(t, key, ent.group.CorrelationKey)
}

func TestShutdown_DrainsOpenGroups(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	_, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)

	e.Shutdown(ctx)

	var drained []*models.CorrelationGroup
	for g := range e.Closed() {
		drained = append(drained, g)
	}
	require.Len(t, drained, 1)
	assert.Equal(t, models.GroupClosed, drained[0].State)
	assert.Equal(t, 0, e.OpenCount())
}

func TestIngest_RefusedAfterShutdown(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	_, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.NoError(t, err)

	e.Shutdown(ctx)

	r, err := e.Ingest(ctx, newAlert("acme", "mfa_failure", "okta", "timeout"))
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, r)
	assert.Equal(t, 0, e.OpenCount(), "a refused alert must not open a group in the drained table")

	// The overflow path refuses the same way.
	a := newAlert("acme", "mfa_failure", "okta", "timeout")
	key, class := e.keyer.Key(a)
	_, err = e.ingestOverflow(ctx, a, key, class, cfg)
	require.ErrorIs(t, err, ErrShuttingDown)

	// A late sweep finds nothing to hand off.
	assert.Equal(t, 0, NewSweeper(e).Sweep(ctx))

	// Only the pre-shutdown group was delivered, then the channel closed.
	g, ok := <-e.Closed()
	require.True(t, ok)
	assert.Equal(t, models.GroupClosed, g.State)
	_, ok = <-e.Closed()
	assert.False(t, ok)
}

func TestIdempotencyKeyStableAcrossRestart(t *testing.T) {
	g := &models.CorrelationGroup{
		CorrelationKey: "abc123",
		WindowStart:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "abc123:2026-08-01T12:00:00Z", g.IdempotencyKey())
}
