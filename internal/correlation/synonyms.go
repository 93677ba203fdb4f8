package correlation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultSynonyms maps known vendor naming variants to a canonical alert
// type class. Keys and values are in canonical (Canonicalize) form.
var defaultSynonyms = map[string]string{
	// MFA / sign-in failures
	"mfa_denied":                     "mfa_failure",
	"mfa_fail":                       "mfa_failure",
	"multifactor_failure":            "mfa_failure",
	"mfa_challenge_failed":           "mfa_failure",
	"user_authentication_mfa_failed": "mfa_failure",

	// Sign-in / login
	"signin_failure":  "login_failure",
	"sign_in_failure": "login_failure",
	"failed_login":    "login_failure",
	"logon_failure":   "login_failure",

	// Malware
	"malware_detection": "malware_detected",
	"virus_detected":    "malware_detected",

	// Phishing
	"phish_delivered":   "phishing",
	"phishing_detected": "phishing",
	"email_phish":       "phishing",
}

type synonymsFile struct {
	Synonyms map[string][]string `yaml:"synonyms"` // class -> variants
}

// LoadSynonyms merges a yaml synonym table over the built-in defaults.
// The file maps each canonical class to its known variants:
//
//	synonyms:
//	  mfa_failure: [mfa_denied, multifactor-failure]
//
// An empty path returns the defaults unchanged.
func LoadSynonyms(path string) (map[string]string, error) {
	merged := make(map[string]string, len(defaultSynonyms))
	for variant, class := range defaultSynonyms {
		merged[variant] = class
	}

	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms file: %w", err)
	}

	var f synonymsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse synonyms file: %w", err)
	}

	for class, variants := range f.Synonyms {
		canonClass := Canonicalize(class)
		for _, v := range variants {
			merged[Canonicalize(v)] = canonClass
		}
	}

	return merged, nil
}
