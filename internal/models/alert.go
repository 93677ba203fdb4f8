// Package models provides the data model shared by the fusion pipeline.
package models

import "time"

// Alert is one ingested security event after normalization.
// Alerts are immutable once created and are referenced, never copied,
// by at most one CorrelationGroup.
type Alert struct {
	ID            string            `json:"id"`              // Internal ID (UUID v7)
	SourceAlertID string            `json:"source_alert_id"` // Source-unique ID
	TenantID      string            `json:"tenant_id"`
	SourceSystem  string            `json:"source_system"`
	AlertType     string            `json:"alert_type"` // Normalized
	TimestampUTC  time.Time         `json:"timestamp_utc"`
	Severity      string            `json:"severity"` // low, medium, high, critical
	RawFields     map[string]any    `json:"raw_fields,omitempty"`
	Correlation   CorrelationFields `json:"correlation"`

	// TimezoneAssumed is set when the source timestamp carried no timezone
	// and UTC was assumed.
	TimezoneAssumed bool `json:"timezone_assumed,omitempty"`
}

// CorrelationFields carries the fields the correlation key is derived from.
// Tenant-specific values (usernames, source IPs) are deliberately absent.
type CorrelationFields struct {
	ServiceOrProvider  string `json:"service_or_provider"`
	FailureReasonClass string `json:"failure_reason_class,omitempty"`
}

// IngestRequest is the external ingestion payload. Fields other than
// SourceSystem and RawFields are optional; the normalizer resolves them
// from RawFields via the per-source mapping table when absent.
type IngestRequest struct {
	TenantID      string         `json:"tenant_id,omitempty"`
	AlertType     string         `json:"alert_type,omitempty"`
	SourceSystem  string         `json:"source_system"`
	SourceAlertID string         `json:"source_alert_id,omitempty"`
	TimestampUTC  string         `json:"timestamp_utc,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	RawFields     map[string]any `json:"raw_fields,omitempty"`
}

// IngestResponse acknowledges an ingestion request.
type IngestResponse struct {
	AlertID   string   `json:"alert_id,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Escalated bool     `json:"escalated,omitempty"`
	Failure   string   `json:"failure,omitempty"`
	Missing   []string `json:"missing_fields,omitempty"`
}

// ValidSeverities are the severity levels accepted by the case system.
var ValidSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// DefaultSeverity is substituted for missing or unrecognized severities.
const DefaultSeverity = "medium"
