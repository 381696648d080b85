package telemetry

import (
	"regexp"
	"time"
)

// UnattributedEntity is the sentinel entity ID assigned to events whose log
// stream could not be parsed. Unattributed events never fail aggregation;
// they are counted separately.
const UnattributedEntity = "unknown"

// Outcome is the classified result of one execution event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"

	// OutcomeUnknown marks payloads matching neither marker. Such events are
	// ignored by aggregation — they are neither a success nor a failure.
	OutcomeUnknown Outcome = "unknown"
)

// Fixed success/failure markers expected in raw task-log payloads.
var (
	successMarker = regexp.MustCompile(`Marking task as SUCCESS|Task exited with return code 0`)
	failureMarker = regexp.MustCompile(`Marking task as FAILED|Task exited with return code [1-9]\d*|Traceback`)
)

// ClassifyOutcome maps a raw task-log payload to an Outcome using the fixed
// marker pair. Success is checked first so a payload containing both markers
// (rare, but seen with retried tasks) counts once, as a success.
func ClassifyOutcome(payload string) Outcome {
	if successMarker.MatchString(payload) {
		return OutcomeSuccess
	}
	if failureMarker.MatchString(payload) {
		return OutcomeFailure
	}
	return OutcomeUnknown
}

// ExecutionEvent is one observed run signal for an entity/sub-task.
// Events are immutable once read from the source.
type ExecutionEvent struct {
	EntityID  string
	SubTaskID string
	RunID     string
	Outcome   Outcome
	Timestamp time.Time
}

// PerformanceMetrics is the per-entity aggregate over one analysis window.
// Field names follow the canonical report schema.
type PerformanceMetrics struct {
	TotalRuns     int `json:"total_runs"`
	TotalFailures int `json:"total_failures"`

	// SuccessRate is nil when TotalRuns is zero: a zero-run entity is
	// "unknown health", not "0% healthy".
	SuccessRate *float64 `json:"success_rate"`

	LastRunTimestamp   *time.Time `json:"last_run_timestamp,omitempty"`
	MostFailingSubTask string     `json:"most_failing_sub_task,omitempty"`
}
