package models

import "time"

// CaseLink records the parent/child case relation for a routed group.
// The case system owns the case content; fusion only keeps the relation.
type CaseLink struct {
	GroupID        string    `json:"group_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ParentCaseID   string    `json:"parent_case_id"`
	ChildCaseIDs   []string  `json:"child_case_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupSummary is what the case system receives for parent case creation.
type GroupSummary struct {
	GroupID         string    `json:"group_id"`
	KeyClass        string    `json:"key_class"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	MemberCount     int       `json:"member_count"`
	TenantCount     int       `json:"tenant_count"`
	Band            Band      `json:"band"`
	TotalScore      int       `json:"total_score"`
	MissingEvidence []string  `json:"missing_evidence,omitempty"`
	Flags           []string  `json:"flags,omitempty"`
}

// RoutedGroup is the audit record kept for every routed group.
type RoutedGroup struct {
	GroupID         string      `json:"group_id"`
	CorrelationKey  string      `json:"correlation_key"`
	KeyClass        string      `json:"key_class"`
	WindowStart     time.Time   `json:"window_start"`
	WindowEnd       time.Time   `json:"window_end"`
	MemberCount     int         `json:"member_count"`
	TenantCount     int         `json:"tenant_count"`
	TotalScore      int         `json:"total_score"`
	Band            Band        `json:"band"`
	Disposition     Disposition `json:"disposition"`
	Flags           []string    `json:"flags,omitempty"`
	MissingEvidence []string    `json:"missing_evidence,omitempty"`
	RoutedAt        time.Time   `json:"routed_at"`
}

// Disposition is the routing outcome of a scored group.
type Disposition string

const (
	DispositionAutoActionPending   Disposition = "AUTO_ACTION_PENDING"
	DispositionEscalated           Disposition = "ESCALATED"
	DispositionClosedInformational Disposition = "CLOSED_INFORMATIONAL"
)
