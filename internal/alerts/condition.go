package alerts

import (
	"strconv"
	"strings"

	"github.com/dagsentry/dagsentry/internal/synthesis"
)

// evalCondition evaluates a rule condition string against a health record.
//
// Supported expressions (field operator value):
//
//	health_score < 40
//	total_failures > 5
//	success_rate < 50
//	priority == CRITICAL
//	risk_level == HIGH
//	degraded == true
//
// success_rate compares as a percentage (0-100); a record with no observed
// runs never fires a success_rate rule. Returns (fires, triggering value);
// (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, rec *synthesis.Record) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "priority":
		if op == "==" {
			return string(rec.Priority) == strings.ToUpper(rhs), 0
		}
		return false, 0

	case "risk_level":
		if op == "==" && rec.Audit != nil {
			return rec.Audit.RiskLevel == strings.ToUpper(rhs), 0
		}
		return false, 0

	case "degraded":
		if op == "==" {
			return strconv.FormatBool(rec.Degraded) == rhs, 0
		}
		return false, 0

	default:
		v, ok := numericField(field, rec)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the record. The second
// return is false when the field is unknown or has no value for this record.
func numericField(field string, rec *synthesis.Record) (float64, bool) {
	switch field {
	case "health_score":
		return float64(rec.HealthScore), true
	case "total_failures":
		if rec.Performance == nil {
			return 0, false
		}
		return float64(rec.Performance.TotalFailures), true
	case "success_rate":
		if rec.Performance == nil || rec.Performance.SuccessRate == nil {
			return 0, false
		}
		return *rec.Performance.SuccessRate * 100, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
