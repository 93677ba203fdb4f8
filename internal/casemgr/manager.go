package casemgr

import (
	"context"
	"fmt"
	"time"

	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/models"
)

// LinkStore persists the case relation so a crash between case creation and
// routing completion never re-creates cases.
type LinkStore interface {
	Get(ctx context.Context, groupID string) (*models.CaseLink, error) // nil when absent
	Save(ctx context.Context, link *models.CaseLink) error
}

// Manager implements the case hierarchy: one parent case per escalated
// group, one child case per distinct tenant among the members, each linked
// to the parent. Child cases are never auto-closed by parent resolution.
type Manager struct {
	client *Client
	store  LinkStore
	log    *logging.Logger
	now    func() time.Time
}

// NewManager wires the case client and link store.
func NewManager(client *Client, store LinkStore, log *logging.Logger) *Manager {
	return &Manager{client: client, store: store, log: log, now: time.Now}
}

// EnsureCases creates the case hierarchy for a group, once. A previously
// saved link is returned as-is.
func (m *Manager) EnsureCases(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord) (*models.CaseLink, error) {
	if existing, err := m.store.Get(ctx, group.ID); err != nil {
		return nil, fmt.Errorf("load case link: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	idemKey := group.IdempotencyKey()
	tenants := group.Tenants()

	summary := &models.GroupSummary{
		GroupID:         group.ID,
		KeyClass:        group.KeyClass,
		WindowStart:     group.WindowStart,
		WindowEnd:       group.WindowEnd,
		MemberCount:     len(group.MemberAlertIDs),
		TenantCount:     len(tenants),
		Band:            score.Band,
		TotalScore:      score.TotalScore,
		MissingEvidence: score.MissingEvidence,
		Flags:           group.Flags,
	}

	parentID, err := m.client.CreateParentCase(ctx, summary, idemKey)
	if err != nil {
		return nil, err
	}

	link := &models.CaseLink{
		GroupID:        group.ID,
		IdempotencyKey: idemKey,
		ParentCaseID:   parentID,
		CreatedAt:      m.now().UTC(),
	}

	for _, tenant := range tenants {
		childID, err := m.client.CreateChildCase(ctx, parentID, tenant, alertIDsForTenant(group, tenant), idemKey)
		if err != nil {
			return nil, err
		}
		if err := m.client.LinkChild(ctx, parentID, childID, idemKey); err != nil {
			return nil, err
		}
		link.ChildCaseIDs = append(link.ChildCaseIDs, childID)
	}

	if err := m.store.Save(ctx, link); err != nil {
		return nil, fmt.Errorf("save case link: %w", err)
	}

	m.log.InfoContext(ctx, "case hierarchy created",
		"group_id", group.ID,
		"parent_case", parentID,
		"child_cases", len(link.ChildCaseIDs))
	return link, nil
}

func alertIDsForTenant(group *models.CorrelationGroup, tenantID string) []string {
	var ids []string
	for _, a := range group.Members {
		if a.TenantID == tenantID {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
