package synthesis

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dagsentry/dagsentry/internal/analysis"
	"github.com/dagsentry/dagsentry/internal/audit"
	"github.com/dagsentry/dagsentry/internal/telemetry"
)

// Priority ranks how urgently an entity needs attention.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Score thresholds for the deterministic priority fallback.
const (
	criticalBelow = 40
	highBelow     = 60
	mediumBelow   = 80
)

// DefaultScore is used when neither the model nor the collected telemetry
// offers any signal to derive a score from.
const DefaultScore = 50

// Record is the terminal per-entity output of one run. The JSON schema is
// stable and additive-only: consumers must tolerate extra fields and absent
// optional ones. Any of performance/audit/errors may be absent when the
// corresponding upstream source produced nothing.
type Record struct {
	EntityID           string                        `json:"entity_id"`
	Performance        *telemetry.PerformanceMetrics `json:"performance,omitempty"`
	Audit              *audit.Finding                `json:"audit,omitempty"`
	Errors             []analysis.ErrorAnalysis      `json:"errors,omitempty"`
	ExecutiveSummary   string                        `json:"executive_summary"`
	HealthScore        int                           `json:"health_score"`
	Priority           Priority                      `json:"priority"`
	KeyRecommendations []string                      `json:"key_recommendations"`

	// Degraded marks records where the fallback path contributed: the
	// inference call failed, the score was clamped, or the priority had to
	// be derived from the score.
	Degraded bool `json:"degraded,omitempty"`
}

// PriorityFromScore is the deterministic fallback mapping applied whenever
// the model returns an unknown tier or no usable output at all.
func PriorityFromScore(score int) Priority {
	switch {
	case score < criticalBelow:
		return PriorityCritical
	case score < highBelow:
		return PriorityHigh
	case score < mediumBelow:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// parsePriority accepts only the four known tiers.
func parsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	}
	return "", false
}

// parseScore interprets the model's health_score, which in practice arrives
// as an integer, a float, or a quoted numeric string. Out-of-range values are
// clamped to the nearest bound and flagged rather than rejected.
func parseScore(raw json.RawMessage) (score int, clamped, ok bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, false
	}
	s = strings.Trim(s, `"`)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}

	score = int(f + 0.5)
	switch {
	case score < 0:
		return 0, true, true
	case score > 100:
		return 100, true, true
	default:
		return score, false, true
	}
}

// deriveScore computes a deterministic best-effort score from the collected
// telemetry, used when the model yields no usable number. Starting point is
// the success rate (or DefaultScore without one); audit risk and high
// severity errors adjust it.
func deriveScore(d entityData) int {
	score := DefaultScore
	if d.perf != nil && d.perf.SuccessRate != nil {
		score = int(*d.perf.SuccessRate*100 + 0.5)
	}

	if d.aud != nil {
		switch d.aud.RiskLevel {
		case audit.RiskHigh:
			score -= 20
		case audit.RiskLow:
			score += 10
		}
	}

	high := 0
	for _, ea := range d.errs {
		if ea.Severity == analysis.SeverityHigh {
			high++
		}
	}
	if penalty := 5 * high; penalty > 20 {
		score -= 20
	} else {
		score -= penalty
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
