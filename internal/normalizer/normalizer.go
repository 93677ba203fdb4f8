// Package normalizer maps heterogeneous alert payloads into the canonical
// Alert model using a per-source field-mapping table.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/models"
)

// NormalizationFailure reports an alert that could not be normalized.
// It is non-retryable: callers route the raw payload to escalation with a
// "normalization failed" flag instead of discarding it.
type NormalizationFailure struct {
	SourceSystem  string
	MissingFields []string
}

func (e *NormalizationFailure) Error() string {
	return fmt.Sprintf("normalization failed for source %q: missing fields %s",
		e.SourceSystem, strings.Join(e.MissingFields, ", "))
}

// Normalizer resolves canonical Alert fields from raw payloads.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	mappings map[string]config.SourceMapping
	now      func() time.Time
}

// New builds a Normalizer from the configured source mappings merged over
// the built-in defaults.
func New(sources config.SourcesConfig) *Normalizer {
	return &Normalizer{
		mappings: buildMappings(sources),
		now:      time.Now,
	}
}

// Normalize converts an ingestion request into an immutable Alert.
// Explicit top-level fields win over mapped raw fields. A missing tenant or
// alert type is unrecoverable and returns a NormalizationFailure.
func (n *Normalizer) Normalize(req *models.IngestRequest) (*models.Alert, *NormalizationFailure) {
	mapping := n.mappingFor(req.SourceSystem)

	tenantID := firstNonEmpty(req.TenantID, lookupString(req.RawFields, mapping.TenantID))
	alertType := firstNonEmpty(req.AlertType, lookupString(req.RawFields, mapping.AlertType))

	var missing []string
	if tenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if alertType == "" {
		missing = append(missing, "alert_type")
	}
	if len(missing) > 0 {
		return nil, &NormalizationFailure{SourceSystem: req.SourceSystem, MissingFields: missing}
	}

	sourceAlertID := firstNonEmpty(req.SourceAlertID, lookupString(req.RawFields, mapping.SourceAlertID))
	if sourceAlertID == "" {
		// Without a source-unique ID the alert cannot be deduplicated, but
		// it must still flow through; a synthetic ID keeps it unique.
		sourceAlertID = "synthetic-" + uuid.New().String()
	}

	ts, assumed := n.resolveTimestamp(req, mapping)

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &models.Alert{
		ID:            id.String(),
		SourceAlertID: sourceAlertID,
		TenantID:      tenantID,
		SourceSystem:  req.SourceSystem,
		AlertType:     alertType,
		TimestampUTC:  ts,
		Severity:      NormalizeSeverity(firstNonEmpty(req.Severity, lookupString(req.RawFields, mapping.Severity))),
		RawFields:     req.RawFields,
		Correlation: models.CorrelationFields{
			ServiceOrProvider:  lookupString(req.RawFields, mapping.ServiceOrProvider),
			FailureReasonClass: lookupString(req.RawFields, mapping.FailureReason),
		},
		TimezoneAssumed: assumed,
	}, nil
}

// resolveTimestamp prefers the explicit field, then mapped raw fields, then
// the ingest time. Parse failures and missing values degrade to ingest time
// with the timezone-assumed caveat; they never fail the alert.
func (n *Normalizer) resolveTimestamp(req *models.IngestRequest, mapping config.SourceMapping) (time.Time, bool) {
	raw := firstNonEmpty(req.TimestampUTC, lookupString(req.RawFields, mapping.Timestamp))
	if raw == "" {
		return n.now().UTC(), true
	}
	ts, assumed, err := parseTimestamp(raw, mapping.Timezone)
	if err != nil {
		return n.now().UTC(), true
	}
	return ts, assumed
}

// NormalizeSeverity lowercases and validates a severity, substituting the
// default for anything outside the accepted set.
func NormalizeSeverity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if models.ValidSeverities[s] {
		return s
	}
	return models.DefaultSeverity
}

func (n *Normalizer) mappingFor(sourceSystem string) config.SourceMapping {
	if m, ok := n.mappings[strings.ToLower(sourceSystem)]; ok {
		return m
	}
	return genericMapping
}

// lookupString returns the first candidate field present in raw with a
// non-empty string form.
func lookupString(raw map[string]any, candidates []string) string {
	for _, field := range candidates {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case fmt.Stringer:
			return s.String()
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", s), "0"), ".")
		case int:
			return fmt.Sprintf("%d", s)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
