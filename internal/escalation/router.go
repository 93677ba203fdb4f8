// Package escalation routes scored groups to their outcome: automated
// action, human escalation, or informational close. The failure model is
// fail-closed throughout; when confidence or data is insufficient the router
// escalates instead of resolving, and destructive actions are never executed
// without an explicit human approval.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/metrics"
	"github.com/helixsec/fusion/internal/models"
)

// PatternRegistry is the persisted seen-before state per correlation key
// class. Entries are added only on human validation and never auto-cleared.
type PatternRegistry interface {
	IsValidated(ctx context.Context, keyClass string) (bool, error)
	MarkValidated(ctx context.Context, keyClass, validatedBy string) error
}

// CaseCreator creates the parent/child case hierarchy for an escalated
// group. Implementations must be idempotent per group.
type CaseCreator interface {
	EnsureCases(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord) (*models.CaseLink, error)
}

// ActionExecutor hands an action request to the executor. It must reject
// destructive requests without an approval token.
type ActionExecutor interface {
	RequestAction(ctx context.Context, req *models.ActionRequest) error
}

// ApprovalStore persists pending approvals so the approval gate survives a
// restart.
type ApprovalStore interface {
	Create(ctx context.Context, a *models.Approval) error
	GetPending(ctx context.Context, groupID string) ([]*models.Approval, error)
	MarkExecuted(ctx context.Context, id string) error
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// Decision is the routing outcome for one scored group.
type Decision struct {
	GroupID         string             `json:"group_id"`
	Disposition     models.Disposition `json:"disposition"`
	Band            models.Band        `json:"band"`
	ForcedEscalate  bool               `json:"forced_escalate,omitempty"`
	FirstOccurrence bool               `json:"first_occurrence,omitempty"`
	CaseLink        *models.CaseLink   `json:"case_link,omitempty"`
	PendingActions  []*models.Approval `json:"pending_actions,omitempty"`
	RoutedAt        time.Time          `json:"routed_at"`
}

// Router is the escalation state machine.
type Router struct {
	cfg       func() config.EscalationConfig
	registry  PatternRegistry
	cases     CaseCreator
	executor  ActionExecutor
	approvals ApprovalStore
	tokens    *TokenIssuer
	log       *logging.Logger
	now       func() time.Time
}

// NewRouter wires the router's collaborators.
func NewRouter(cfg func() config.EscalationConfig, registry PatternRegistry, cases CaseCreator,
	executor ActionExecutor, approvals ApprovalStore, tokens *TokenIssuer, log *logging.Logger) *Router {
	return &Router{
		cfg:       cfg,
		registry:  registry,
		cases:     cases,
		executor:  executor,
		approvals: approvals,
		tokens:    tokens,
		log:       log,
		now:       time.Now,
	}
}

// Route maps a scored group to its disposition and performs the side
// effects: case creation for escalations, immediate execution of permitted
// non-destructive actions, and pending approvals for destructive ones.
func (r *Router) Route(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord) (*Decision, error) {
	cfg := r.cfg()

	validated, err := r.registry.IsValidated(ctx, group.KeyClass)
	if err != nil {
		return nil, fmt.Errorf("pattern registry lookup: %w", err)
	}
	firstOccurrence := !validated
	if firstOccurrence {
		group.AddFlag(models.FlagFirstOccurrence)
	}

	forced := firstOccurrence || group.HasFlag(models.FlagLowConfidenceData)

	decision := &Decision{
		GroupID:         group.ID,
		Band:            score.Band,
		ForcedEscalate:  forced,
		FirstOccurrence: firstOccurrence,
		RoutedAt:        r.now().UTC(),
	}

	switch {
	case forced:
		// First occurrences and low-confidence evidence go to a human with
		// no automated actions, whatever the band: evidence the orchestrator
		// marked insufficient must not drive actions.
		decision.Disposition = models.DispositionEscalated
	case score.Band == models.BandHigh:
		decision.Disposition = models.DispositionEscalated
		pending, actErr := r.emitActions(ctx, group, cfg)
		if actErr != nil {
			return nil, actErr
		}
		if len(pending) > 0 {
			decision.Disposition = models.DispositionAutoActionPending
			decision.PendingActions = pending
		}
	case score.Band == models.BandMedium:
		decision.Disposition = models.DispositionEscalated
	default:
		// Logged and retained for audit, nobody paged.
		decision.Disposition = models.DispositionClosedInformational
	}

	if decision.Disposition != models.DispositionClosedInformational {
		link, caseErr := r.cases.EnsureCases(ctx, group, score)
		if caseErr != nil {
			return nil, fmt.Errorf("case creation for group %s: %w", group.ID, caseErr)
		}
		decision.CaseLink = link
	}

	group.State = models.GroupRouted
	metrics.GroupsRouted.WithLabelValues(string(decision.Disposition), string(score.Band)).Inc()
	r.log.InfoContext(ctx, "group routed",
		"group_id", group.ID,
		"key_class", group.KeyClass,
		"band", string(score.Band),
		"disposition", string(decision.Disposition),
		"first_occurrence", firstOccurrence)
	return decision, nil
}

// emitActions executes permitted non-destructive actions immediately and
// records destructive ones as pending approvals. Action targets are the
// tenants represented in the group; a tenant without a policy allowlist
// entry for this class gets nothing.
func (r *Router) emitActions(ctx context.Context, group *models.CorrelationGroup, cfg config.EscalationConfig) ([]*models.Approval, error) {
	class := alertClassOf(group)
	actionType := cfg.ActionFor(class)
	if actionType == "" {
		return nil, nil
	}

	var pending []*models.Approval
	for _, tenant := range group.Tenants() {
		if !cfg.ActionPermitted(tenant, class) {
			continue
		}

		if !cfg.IsDestructive(actionType) {
			req := &models.ActionRequest{
				GroupID:    group.ID,
				TenantID:   tenant,
				ActionType: actionType,
				Target:     tenant,
			}
			if err := r.executor.RequestAction(ctx, req); err != nil {
				return nil, fmt.Errorf("request action %s for tenant %s: %w", actionType, tenant, err)
			}
			continue
		}

		approval := &models.Approval{
			ID:         uuid.Must(uuid.NewV7()).String(),
			GroupID:    group.ID,
			KeyClass:   group.KeyClass,
			TenantID:   tenant,
			ActionType: actionType,
			Target:     tenant,
			State:      models.ApprovalPending,
			CreatedAt:  r.now().UTC(),
			ExpiresAt:  r.now().UTC().Add(cfg.ApprovalTimeout),
		}
		if err := r.approvals.Create(ctx, approval); err != nil {
			return nil, fmt.Errorf("record pending approval: %w", err)
		}
		pending = append(pending, approval)
	}
	return pending, nil
}

// Confirm handles a human confirmation for an escalated group: it marks the
// key-class pattern validated and executes any pending destructive actions,
// each with a freshly minted approval token. Expired approvals are never
// executed.
func (r *Router) Confirm(ctx context.Context, group *models.CorrelationGroup, approvedBy string) error {
	if err := r.registry.MarkValidated(ctx, group.KeyClass, approvedBy); err != nil {
		return fmt.Errorf("mark pattern validated: %w", err)
	}

	pending, err := r.approvals.GetPending(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("load pending approvals: %w", err)
	}

	now := r.now()
	for _, a := range pending {
		if now.After(a.ExpiresAt) {
			continue
		}

		token, tokErr := r.tokens.Issue(a.GroupID, a.ActionType, a.Target, approvedBy, time.Until(a.ExpiresAt))
		if tokErr != nil {
			return fmt.Errorf("issue approval token: %w", tokErr)
		}
		req := &models.ActionRequest{
			GroupID:       a.GroupID,
			TenantID:      a.TenantID,
			ActionType:    a.ActionType,
			Target:        a.Target,
			Destructive:   true,
			ApprovalToken: token,
		}
		if execErr := r.executor.RequestAction(ctx, req); execErr != nil {
			return fmt.Errorf("execute approved action %s: %w", a.ActionType, execErr)
		}
		if markErr := r.approvals.MarkExecuted(ctx, a.ID); markErr != nil {
			return fmt.Errorf("mark approval executed: %w", markErr)
		}
		r.log.InfoContext(ctx, "destructive action executed on approval",
			"group_id", a.GroupID, "action", a.ActionType, "tenant", a.TenantID, "approved_by", approvedBy)
	}
	return nil
}

// ExpireApprovals transitions overdue pending approvals to expired. The
// underlying actions are never executed; their groups remain escalated.
func (r *Router) ExpireApprovals(ctx context.Context) (int, error) {
	n, err := r.approvals.ExpirePending(ctx, r.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ApprovalTimeouts.Add(float64(n))
		r.log.WarnContext(ctx, "pending approvals expired unexecuted", "count", n)
	}
	return n, nil
}

// RunApprovalSweeper expires overdue approvals on the given interval until
// ctx is cancelled.
func (r *Router) RunApprovalSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ExpireApprovals(ctx); err != nil {
				r.log.ErrorContext(ctx, "approval expiry sweep failed", "error", err)
			}
		}
	}
}

// alertClassOf returns the alert-type class component of the group's key.
func alertClassOf(group *models.CorrelationGroup) string {
	for i := 0; i < len(group.KeyClass); i++ {
		if group.KeyClass[i] == '|' {
			return group.KeyClass[:i]
		}
	}
	return group.KeyClass
}
