package telemetry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// ev builds a test event n minutes after baseTime.
func ev(entity, subTask string, outcome Outcome, n int) ExecutionEvent {
	return ExecutionEvent{
		EntityID:  entity,
		SubTaskID: subTask,
		RunID:     "run-1",
		Outcome:   outcome,
		Timestamp: baseTime.Add(time.Duration(n) * time.Minute),
	}
}

func TestAggregate_SingleEntity(t *testing.T) {
	// 10 events for E1: 8 successes, 2 failures both on T1.
	var events []ExecutionEvent
	for i := 0; i < 8; i++ {
		events = append(events, ev("E1", "T0", OutcomeSuccess, i))
	}
	events = append(events,
		ev("E1", "T1", OutcomeFailure, 8),
		ev("E1", "T1", OutcomeFailure, 9),
	)

	agg := Aggregate(events)
	pm, ok := agg.Metrics["E1"]
	if !ok {
		t.Fatal("no metrics for E1")
	}

	if pm.TotalRuns != 10 {
		t.Errorf("TotalRuns = %d, want 10", pm.TotalRuns)
	}
	if pm.TotalFailures != 2 {
		t.Errorf("TotalFailures = %d, want 2", pm.TotalFailures)
	}
	if pm.SuccessRate == nil || *pm.SuccessRate != 0.8 {
		t.Errorf("SuccessRate = %v, want 0.8", pm.SuccessRate)
	}
	if pm.MostFailingSubTask != "T1" {
		t.Errorf("MostFailingSubTask = %q, want T1", pm.MostFailingSubTask)
	}
	wantLast := baseTime.Add(9 * time.Minute)
	if pm.LastRunTimestamp == nil || !pm.LastRunTimestamp.Equal(wantLast) {
		t.Errorf("LastRunTimestamp = %v, want %v", pm.LastRunTimestamp, wantLast)
	}
}

func TestAggregate_ZeroRuns(t *testing.T) {
	agg := Aggregate(nil)
	if len(agg.Metrics) != 0 {
		t.Errorf("Metrics for empty input = %v, want empty", agg.Metrics)
	}

	// An entity whose only events have unknown outcomes yields no metrics
	// entry at all — absence, not a zero success rate.
	agg = Aggregate([]ExecutionEvent{ev("E2", "T1", OutcomeUnknown, 0)})
	if _, ok := agg.Metrics["E2"]; ok {
		t.Error("entity with only unknown outcomes should have no metrics")
	}
}

func TestAggregate_Unattributed(t *testing.T) {
	events := []ExecutionEvent{
		ev("", "T1", OutcomeFailure, 0),
		ev(UnattributedEntity, "T1", OutcomeSuccess, 1),
		ev("E1", "T1", OutcomeSuccess, 2),
	}
	agg := Aggregate(events)
	if agg.Unattributed != 2 {
		t.Errorf("Unattributed = %d, want 2", agg.Unattributed)
	}
	if len(agg.Metrics) != 1 {
		t.Errorf("Metrics entities = %d, want 1", len(agg.Metrics))
	}
}

func TestAggregate_TieBreakFirstFailure(t *testing.T) {
	// T_a and T_b both fail twice; T_b's first failure comes earlier.
	events := []ExecutionEvent{
		ev("E1", "T_b", OutcomeFailure, 0),
		ev("E1", "T_a", OutcomeFailure, 1),
		ev("E1", "T_a", OutcomeFailure, 2),
		ev("E1", "T_b", OutcomeFailure, 3),
	}
	agg := Aggregate(events)
	if got := agg.Metrics["E1"].MostFailingSubTask; got != "T_b" {
		t.Errorf("MostFailingSubTask = %q, want T_b (earliest first failure)", got)
	}

	// Re-ordering the successes around the failures must not change the
	// winner.
	reordered := []ExecutionEvent{
		ev("E1", "T_c", OutcomeSuccess, 10),
		events[0], events[1],
		ev("E1", "T_d", OutcomeSuccess, 11),
		events[2], events[3],
	}
	agg = Aggregate(reordered)
	if got := agg.Metrics["E1"].MostFailingSubTask; got != "T_b" {
		t.Errorf("MostFailingSubTask after reorder = %q, want T_b", got)
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	events := []ExecutionEvent{
		ev("E1", "T1", OutcomeSuccess, 0),
		ev("E2", "T9", OutcomeFailure, 1),
		ev("E1", "T2", OutcomeFailure, 2),
		ev("E2", "T9", OutcomeSuccess, 3),
	}
	first := Aggregate(events)
	second := Aggregate(events)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Aggregate not deterministic (-first +second):\n%s", diff)
	}
}

func TestMergeCounts(t *testing.T) {
	agg := Aggregate([]ExecutionEvent{
		ev("E1", "T1", OutcomeSuccess, 0),
		ev("E1", "T1", OutcomeFailure, 1),
	})

	later := baseTime.Add(2 * time.Hour)
	MergeCounts(agg.Metrics, map[string]RunCounts{
		"E1": {Success: 6, Failed: 2, LastRun: later},
		"E3": {Success: 3, Failed: 0},
		"":   {Success: 99},
	})

	e1 := agg.Metrics["E1"]
	if e1.TotalRuns != 10 || e1.TotalFailures != 3 {
		t.Errorf("E1 after merge = %d runs / %d failures, want 10/3", e1.TotalRuns, e1.TotalFailures)
	}
	if e1.SuccessRate == nil || *e1.SuccessRate != 0.7 {
		t.Errorf("E1 SuccessRate = %v, want 0.7", e1.SuccessRate)
	}
	if e1.LastRunTimestamp == nil || !e1.LastRunTimestamp.Equal(later) {
		t.Errorf("E1 LastRunTimestamp = %v, want %v", e1.LastRunTimestamp, later)
	}

	e3, ok := agg.Metrics["E3"]
	if !ok {
		t.Fatal("E3 missing after merge")
	}
	if e3.TotalRuns != 3 || e3.TotalFailures != 0 {
		t.Errorf("E3 = %d runs / %d failures, want 3/0", e3.TotalRuns, e3.TotalFailures)
	}
	if e3.MostFailingSubTask != "" {
		t.Errorf("E3 MostFailingSubTask = %q, want empty (no sub-task attribution)", e3.MostFailingSubTask)
	}

	if _, ok := agg.Metrics[""]; ok {
		t.Error("empty entity ID must not be merged")
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Outcome
	}{
		{"marking success", "INFO - Marking task as SUCCESS. dag_id=etl", OutcomeSuccess},
		{"return code 0", "INFO - Task exited with return code 0", OutcomeSuccess},
		{"marking failed", "ERROR - Marking task as FAILED. dag_id=etl", OutcomeFailure},
		{"nonzero return code", "Task exited with return code 1", OutcomeFailure},
		{"traceback", "Traceback (most recent call last):", OutcomeFailure},
		{"neither marker", "INFO - Dependencies all met", OutcomeUnknown},
		{"empty", "", OutcomeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyOutcome(tc.payload); got != tc.want {
				t.Errorf("ClassifyOutcome(%q) = %q, want %q", tc.payload, got, tc.want)
			}
		})
	}
}
