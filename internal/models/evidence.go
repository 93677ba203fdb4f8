package models

import "time"

// ResultStatus is the outcome class of one provider call.
type ResultStatus string

const (
	ResultOK      ResultStatus = "OK"
	ResultPartial ResultStatus = "PARTIAL"
	ResultFailed  ResultStatus = "FAILED"
	ResultSkipped ResultStatus = "SKIPPED_RATE_LIMITED"
)

// Verdict is a provider-specific verdict mapped to a common scale.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictBenign     Verdict = "benign"
	VerdictUnknown    Verdict = "unknown"
)

// EnrichmentResult is the outcome of one provider call for one group.
// A FAILED or SKIPPED result never counts as a neutral contribution; it is
// recorded as missing evidence so it cannot be mistaken for "checked, benign".
type EnrichmentResult struct {
	Provider               string       `json:"provider"`
	Verdict                Verdict      `json:"verdict"`
	ConfidenceContribution int          `json:"confidence_contribution"` // Signed
	Status                 ResultStatus `json:"status"`
	Detail                 string       `json:"detail,omitempty"`
	LatencyMillis          int64        `json:"latency_millis,omitempty"`
}

// AggregatedEvidence is the fan-in of all provider results for a group.
type AggregatedEvidence struct {
	GroupID      string             `json:"group_id"`
	Results      []EnrichmentResult `json:"results"`
	Completeness float64            `json:"completeness"` // OK results / expected sources
	CollectedAt  time.Time          `json:"collected_at"`
}

// MissingProviders returns providers whose result was not OK, sorted by the
// order they appear in Results.
func (e *AggregatedEvidence) MissingProviders() []string {
	var missing []string
	for _, r := range e.Results {
		if r.Status != ResultOK {
			missing = append(missing, r.Provider)
		}
	}
	return missing
}
