package models

import "time"

// GroupState is the lifecycle state of a CorrelationGroup.
type GroupState string

const (
	GroupOpen      GroupState = "OPEN"
	GroupClosed    GroupState = "CLOSED"
	GroupEnriching GroupState = "ENRICHING"
	GroupScored    GroupState = "SCORED"
	GroupRouted    GroupState = "ROUTED"
)

// Group flags recorded on close or during routing.
const (
	FlagBurst             = "BURST"
	FlagLowConfidenceData = "LOW_CONFIDENCE_DATA"
	FlagNormalizationFail = "NORMALIZATION_FAILED"
	FlagFirstOccurrence   = "FIRST_OCCURRENCE"
	FlagOverflow          = "OVERFLOW"
)

// CorrelationGroup is a cluster of alerts believed to share one underlying
// cause. All members share the same CorrelationKey. Members are recorded in
// arrival order with no duplicates.
type CorrelationGroup struct {
	ID             string     `json:"id"`
	CorrelationKey string     `json:"correlation_key"` // sha256 hex
	KeyClass       string     `json:"key_class"`       // Readable "type|provider|reason" form
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	State          GroupState `json:"state"`
	Flags          []string   `json:"flags,omitempty"`
	MemberAlertIDs []string   `json:"member_alert_ids"`
	Members        []*Alert   `json:"-"`
}

// Tenants returns the distinct tenant IDs among member alerts, in first-seen
// order. Child case creation relies on this ordering being stable.
func (g *CorrelationGroup) Tenants() []string {
	seen := make(map[string]bool, len(g.Members))
	var tenants []string
	for _, a := range g.Members {
		if a.TenantID == "" || seen[a.TenantID] {
			continue
		}
		seen[a.TenantID] = true
		tenants = append(tenants, a.TenantID)
	}
	return tenants
}

// HasFlag reports whether the group carries the given flag.
func (g *CorrelationGroup) HasFlag(flag string) bool {
	for _, f := range g.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a flag if not already present.
func (g *CorrelationGroup) AddFlag(flag string) {
	if !g.HasFlag(flag) {
		g.Flags = append(g.Flags, flag)
	}
}

// IdempotencyKey identifies this group across retries and restarts.
// Case system calls are keyed by it.
func (g *CorrelationGroup) IdempotencyKey() string {
	return g.CorrelationKey + ":" + g.WindowStart.UTC().Format(time.RFC3339)
}
