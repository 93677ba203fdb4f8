// Package scoring turns aggregated enrichment evidence into a ScoreRecord.
// Score is a pure function of the evidence and thresholds, which is what
// makes routing decisions replayable during an audit.
package scoring

import (
	"time"

	"github.com/helixsec/fusion/internal/models"
)

// Score sums the confidence contributions of OK results into a raw signed
// total. Non-OK results contribute nothing and are recorded as missing
// evidence so they are never mistaken for "checked, found benign". Raw
// contribution counts are used rather than normalized percentages:
// percentage scoring under-weights genuine multi-source agreement when most
// voters abstain.
func Score(ev *models.AggregatedEvidence, thresholds models.ScoreThresholds) *models.ScoreRecord {
	total := 0
	var missing []string
	for _, r := range ev.Results {
		if r.Status == models.ResultOK {
			total += r.ConfidenceContribution
			continue
		}
		missing = append(missing, r.Provider)
	}

	return &models.ScoreRecord{
		GroupID:         ev.GroupID,
		TotalScore:      total,
		Band:            BandFor(total, thresholds),
		MissingEvidence: missing,
		Completeness:    ev.Completeness,
		ComputedAt:      time.Now().UTC(),
	}
}

// BandFor maps a total score to its band. Boundaries are inclusive upward:
// exactly High is HIGH, exactly Medium is MEDIUM.
func BandFor(total int, t models.ScoreThresholds) models.Band {
	switch {
	case total >= t.High:
		return models.BandHigh
	case total >= t.Medium:
		return models.BandMedium
	default:
		return models.BandLow
	}
}
