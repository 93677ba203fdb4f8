package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/helixsec/fusion/internal/models"
)

// Canonicalize collapses vendor-vs-custom naming differences: lowercased,
// trimmed, with spaces, dashes and dots folded to underscores, so
// "MFA-Failure" and "mfa failure" map to "mfa_failure".
func Canonicalize(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// Keyer derives correlation keys. Tenant-specific fields (usernames,
// source IPs) are deliberately excluded so the same underlying event across
// tenants maps to the same key.
type Keyer struct {
	synonyms map[string]string // canonical variant -> class
}

// NewKeyer builds a Keyer over the merged synonym table.
func NewKeyer(synonyms map[string]string) *Keyer {
	return &Keyer{synonyms: synonyms}
}

// AlertTypeClass resolves an alert type to its canonical class. Unresolvable
// novel types become their own class; they are never silently merged.
func (k *Keyer) AlertTypeClass(alertType string) string {
	canon := Canonicalize(alertType)
	if class, ok := k.synonyms[canon]; ok {
		return class
	}
	return canon
}

// Key derives the correlation key for an alert: a sha256 over the
// canonicalized (alertTypeClass, serviceOrProvider, failureReasonClass)
// triple, plus the readable class form kept for logs and case summaries.
func (k *Keyer) Key(alert *models.Alert) (hash string, class string) {
	parts := []string{
		k.AlertTypeClass(alert.AlertType),
		Canonicalize(alert.Correlation.ServiceOrProvider),
		Canonicalize(alert.Correlation.FailureReasonClass),
	}
	class = strings.Join(parts, "|")

	sum := sha256.Sum256([]byte(class))
	return hex.EncodeToString(sum[:]), class
}
