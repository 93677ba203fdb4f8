package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/models"
)

func newTestNormalizer() *Normalizer {
	n := New(config.SourcesConfig{})
	n.now = func() time.Time {
		return time.Date(2026, 1, 22, 14, 0, 0, 0, time.UTC)
	}
	return n
}

func TestNormalize_DefenderMapping(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		SourceSystem: "microsoft_defender",
		RawFields: map[string]any{
			"EventTime":      "2026-01-22T14:23:45.123Z",
			"EventSource":    "Microsoft Defender",
			"EventID":        "def-12345",
			"Customer":       "ACME Corp",
			"Alert_Severity": "HIGH",
			"AlertType":      "MFA_FAILURE",
			"affected_user":  "jsmith@acme.com",
			"FailureReason":  "mfa_denied",
		},
	})

	require.Nil(t, failure)
	assert.Equal(t, "ACME Corp", alert.TenantID)
	assert.Equal(t, "MFA_FAILURE", alert.AlertType)
	assert.Equal(t, "def-12345", alert.SourceAlertID)
	assert.Equal(t, "high", alert.Severity)
	assert.Equal(t, "Microsoft Defender", alert.Correlation.ServiceOrProvider)
	assert.Equal(t, "mfa_denied", alert.Correlation.FailureReasonClass)
	assert.Equal(t, time.Date(2026, 1, 22, 14, 23, 45, 123000000, time.UTC), alert.TimestampUTC)
	assert.False(t, alert.TimezoneAssumed)
	assert.NotEmpty(t, alert.ID)

	// Unmapped fields pass through verbatim
	assert.Equal(t, "jsmith@acme.com", alert.RawFields["affected_user"])
}

func TestNormalize_ExplicitFieldsWin(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		TenantID:     "Globex Inc",
		AlertType:    "MALWARE_DETECTED",
		SourceSystem: "microsoft_defender",
		RawFields: map[string]any{
			"Customer":  "Ignored Corp",
			"AlertType": "ignored",
		},
	})

	require.Nil(t, failure)
	assert.Equal(t, "Globex Inc", alert.TenantID)
	assert.Equal(t, "MALWARE_DETECTED", alert.AlertType)
}

func TestNormalize_MissingTenant(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		SourceSystem: "unknown_edr",
		RawFields: map[string]any{
			"alert_type": "SOMETHING",
		},
	})

	assert.Nil(t, alert)
	require.NotNil(t, failure)
	assert.Equal(t, []string{"tenant_id"}, failure.MissingFields)
	assert.Contains(t, failure.Error(), "tenant_id")
}

func TestNormalize_MissingTenantAndType(t *testing.T) {
	n := newTestNormalizer()

	_, failure := n.Normalize(&models.IngestRequest{
		SourceSystem: "unknown_edr",
		RawFields:    map[string]any{},
	})

	require.NotNil(t, failure)
	assert.ElementsMatch(t, []string{"tenant_id", "alert_type"}, failure.MissingFields)
}

func TestNormalize_NaiveTimestampAssumesUTC(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		TenantID:     "Initech",
		AlertType:    "MFA_FAILURE",
		SourceSystem: "generic",
		TimestampUTC: "2026-01-22T10:30:00",
	})

	require.Nil(t, failure)
	assert.Equal(t, time.Date(2026, 1, 22, 10, 30, 0, 0, time.UTC), alert.TimestampUTC)
	assert.True(t, alert.TimezoneAssumed, "missing timezone should be recorded as a caveat")
}

func TestNormalize_DeclaredSourceTimezone(t *testing.T) {
	n := New(config.SourcesConfig{
		Mappings: map[string]config.SourceMapping{
			"onprem_siem": {
				TenantID:  []string{"tenant"},
				AlertType: []string{"type"},
				Timestamp: []string{"when"},
				Timezone:  "America/New_York",
			},
		},
	})

	alert, failure := n.Normalize(&models.IngestRequest{
		SourceSystem: "onprem_siem",
		RawFields: map[string]any{
			"tenant": "ACME Corp",
			"type":   "LOGIN_FAILURE",
			"when":   "2026-01-22 09:00:00",
		},
	})

	require.Nil(t, failure)
	// EST is UTC-5 in January
	assert.Equal(t, time.Date(2026, 1, 22, 14, 0, 0, 0, time.UTC), alert.TimestampUTC)
	assert.False(t, alert.TimezoneAssumed)
}

func TestNormalize_MissingTimestampUsesIngestTime(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		TenantID:     "Umbrella Corp",
		AlertType:    "PHISHING",
		SourceSystem: "generic",
	})

	require.Nil(t, failure)
	assert.Equal(t, time.Date(2026, 1, 22, 14, 0, 0, 0, time.UTC), alert.TimestampUTC)
	assert.True(t, alert.TimezoneAssumed)
}

func TestNormalize_SyntheticSourceID(t *testing.T) {
	n := newTestNormalizer()

	alert, failure := n.Normalize(&models.IngestRequest{
		TenantID:     "ACME Corp",
		AlertType:    "MFA_FAILURE",
		SourceSystem: "generic",
	})

	require.Nil(t, failure)
	assert.Contains(t, alert.SourceAlertID, "synthetic-")
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HIGH", "high"},
		{"high", "high"},
		{" Critical ", "critical"},
		{"SUPER_CRITICAL", "medium"},
		{"", "medium"},
		{"5", "medium"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSeverity(tt.input))
		})
	}
}
