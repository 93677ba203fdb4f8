package models

import "time"

// ActionRequest is handed to the action executor. Destructive action types
// are rejected by the executor unless ApprovalToken is present; the token is
// minted only on explicit human confirmation.
type ActionRequest struct {
	GroupID       string `json:"group_id"`
	TenantID      string `json:"tenant_id"`
	ActionType    string `json:"action_type"`
	Target        string `json:"target"`
	Destructive   bool   `json:"destructive"`
	ApprovalToken string `json:"approval_token,omitempty"`
}

// ApprovalState is the lifecycle state of a pending approval.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalExecuted ApprovalState = "EXECUTED"
	ApprovalExpired  ApprovalState = "EXPIRED"
)

// Approval is a destructive action awaiting human confirmation. Absent
// confirmation before ExpiresAt the action is never executed and the group
// stays escalated.
type Approval struct {
	ID         string        `json:"id"`
	GroupID    string        `json:"group_id"`
	KeyClass   string        `json:"key_class"`
	TenantID   string        `json:"tenant_id"`
	ActionType string        `json:"action_type"`
	Target     string        `json:"target"`
	State      ApprovalState `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}
