package models

import "time"

// Band is the discrete risk tier derived from a numeric score.
type Band string

const (
	BandLow    Band = "LOW"
	BandMedium Band = "MEDIUM"
	BandHigh   Band = "HIGH"
)

// ScoreThresholds maps a raw score to a band. Boundaries are inclusive
// upward: a score exactly at High is HIGH, exactly at Medium is MEDIUM.
type ScoreThresholds struct {
	High   int `json:"high" mapstructure:"high"`
	Medium int `json:"medium" mapstructure:"medium"`
}

// DefaultThresholds are the tunable defaults; per-tenant overrides come from
// configuration, not code.
func DefaultThresholds() ScoreThresholds {
	return ScoreThresholds{High: 90, Medium: 60}
}

// ScoreRecord is the scoring outcome for a closed group. Recomputing from
// the same evidence and thresholds always yields an identical record
// (modulo ComputedAt).
type ScoreRecord struct {
	GroupID         string    `json:"group_id"`
	TotalScore      int       `json:"total_score"` // Raw signed sum, never clamped
	Band            Band      `json:"band"`
	MissingEvidence []string  `json:"missing_evidence,omitempty"`
	Completeness    float64   `json:"completeness"`
	ComputedAt      time.Time `json:"computed_at"`
}
