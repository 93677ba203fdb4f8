package repository

import (
	"context"
	"sync"
	"time"

	"github.com/helixsec/fusion/internal/escalation"
	"github.com/helixsec/fusion/internal/models"
)

// MemoryRepository is an in-memory implementation of the same stores the
// Postgres repository provides. Used when fusiond runs without a database
// and by tests. State does not survive a restart.
type MemoryRepository struct {
	mu        sync.Mutex
	patterns  map[string]string
	approvals map[string]*models.Approval
	links     map[string]*models.CaseLink
	routed    map[string]*models.RoutedGroup
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patterns:  make(map[string]string),
		approvals: make(map[string]*models.Approval),
		links:     make(map[string]*models.CaseLink),
		routed:    make(map[string]*models.RoutedGroup),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
func (r *MemoryRepository) Close() error               { return nil }

func (r *MemoryRepository) IsValidated(_ context.Context, keyClass string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.patterns[keyClass]
	return ok, nil
}

func (r *MemoryRepository) MarkValidated(_ context.Context, keyClass, validatedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patterns[keyClass]; !ok {
		r.patterns[keyClass] = validatedBy
	}
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, a *models.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.approvals[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetPending(_ context.Context, groupID string) ([]*models.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Approval
	for _, a := range r.approvals {
		if a.GroupID == groupID && a.State == models.ApprovalPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkExecuted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok || a.State != models.ApprovalPending {
		return ErrNotFound
	}
	a.State = models.ApprovalExecuted
	return nil
}

func (r *MemoryRepository) ExpirePending(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.approvals {
		if a.State == models.ApprovalPending && now.After(a.ExpiresAt) {
			a.State = models.ApprovalExpired
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Get(_ context.Context, groupID string) (*models.CaseLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[groupID]
	if !ok {
		return nil, nil
	}
	cp := *link
	return &cp, nil
}

func (r *MemoryRepository) Save(_ context.Context, link *models.CaseLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[link.GroupID]; !ok {
		cp := *link
		r.links[link.GroupID] = &cp
	}
	return nil
}

func (r *MemoryRepository) SaveRoutedGroup(_ context.Context, group *models.CorrelationGroup, score *models.ScoreRecord, decision *escalation.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routed[group.ID]; ok {
		return nil
	}
	r.routed[group.ID] = &models.RoutedGroup{
		GroupID:         group.ID,
		CorrelationKey:  group.CorrelationKey,
		KeyClass:        group.KeyClass,
		WindowStart:     group.WindowStart,
		WindowEnd:       group.WindowEnd,
		MemberCount:     len(group.MemberAlertIDs),
		TenantCount:     len(group.Tenants()),
		TotalScore:      score.TotalScore,
		Band:            score.Band,
		Disposition:     decision.Disposition,
		Flags:           append([]string(nil), group.Flags...),
		MissingEvidence: append([]string(nil), score.MissingEvidence...),
		RoutedAt:        decision.RoutedAt,
	}
	return nil
}

func (r *MemoryRepository) GetRoutedGroup(_ context.Context, groupID string) (*models.RoutedGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.routed[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rg
	return &cp, nil
}
