package correlation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/models"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MFA Failure", "mfa_failure"},
		{"mfa-failure", "mfa_failure"},
		{"  MFA.Failure  ", "mfa_failure"},
		{"MFA -- Failure", "mfa_failure"},
		{"already_canonical", "already_canonical"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalize(tt.in), "input %q", tt.in)
	}
}

func TestKeyer_SynonymsResolveToOneClass(t *testing.T) {
	k := NewKeyer(defaultSynonyms)

	assert.Equal(t, "mfa_failure", k.AlertTypeClass("MFA-Denied"))
	assert.Equal(t, "mfa_failure", k.AlertTypeClass("multifactor failure"))
	assert.Equal(t, "login_failure", k.AlertTypeClass("Failed Login"))

	// Novel types stay distinct rather than being folded into a guess.
	assert.Equal(t, "quantum_anomaly", k.AlertTypeClass("Quantum Anomaly"))
}

func TestKeyer_KeyExcludesTenantFields(t *testing.T) {
	k := NewKeyer(defaultSynonyms)

	a := &models.Alert{
		TenantID:  "acme",
		AlertType: "mfa_denied",
		Correlation: models.CorrelationFields{
			ServiceOrProvider:  "Okta",
			FailureReasonClass: "timeout",
		},
	}
	b := &models.Alert{
		TenantID:  "globex",
		AlertType: "MFA Failure",
		Correlation: models.CorrelationFields{
			ServiceOrProvider:  "okta",
			FailureReasonClass: "Timeout",
		},
	}

	hashA, classA := k.Key(a)
	hashB, classB := k.Key(b)

	assert.Equal(t, hashA, hashB, "tenant must not influence the key")
	assert.Equal(t, "mfa_failure|okta|timeout", classA)
	assert.Equal(t, classA, classB)
	assert.Len(t, hashA, 64)
}

func TestLoadSynonyms_FileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	content := `synonyms:
  mfa_failure:
    - vendor-mfa-block
  data_exfiltration:
    - "Large Outbound Transfer"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	syn, err := LoadSynonyms(path)
	require.NoError(t, err)

	assert.Equal(t, "mfa_failure", syn["vendor_mfa_block"])
	assert.Equal(t, "data_exfiltration", syn["large_outbound_transfer"])
	// Defaults survive the merge.
	assert.Equal(t, "mfa_failure", syn["mfa_denied"])
}

func TestLoadSynonyms_EmptyPathReturnsDefaults(t *testing.T) {
	syn, err := LoadSynonyms("")
	require.NoError(t, err)
	assert.Equal(t, "phishing", syn["phish_delivered"])
}

func TestLoadSynonyms_MissingFileErrors(t *testing.T) {
	_, err := LoadSynonyms("/nonexistent/synonyms.yaml")
	assert.Error(t, err)
}
