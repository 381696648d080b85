package telemetry

import (
	"log/slog"
	"time"
)

// Aggregation is the result of one aggregation pass.
type Aggregation struct {
	// Metrics holds one PerformanceMetrics per entity seen in the window.
	Metrics map[string]*PerformanceMetrics

	// Unattributed counts events that carried no usable entity ID.
	Unattributed int
}

// subTaskTally tracks per-sub-task failures plus the input index of the first
// failure, which breaks ties deterministically.
type subTaskTally struct {
	failures  int
	firstFail int
}

// entityTally is the mutable per-entity accumulator used during aggregation.
type entityTally struct {
	successes int
	failures  int
	lastRun   time.Time
	subTasks  map[string]*subTaskTally
}

// Aggregate turns a stream of execution events into per-entity performance
// metrics. It is a pure transformation: no network, no model calls, and no
// retained state between invocations.
//
// Events with an unknown outcome are ignored. Events without entity
// attribution (empty ID or the UnattributedEntity sentinel) are skipped and
// counted in Aggregation.Unattributed.
//
// The most-failing sub-task is the one with the highest failure count; ties
// go to the sub-task whose first failing event appears earliest in the input,
// so re-ordering the remaining events cannot change the winner.
func Aggregate(events []ExecutionEvent) Aggregation {
	tallies := make(map[string]*entityTally)
	unattributed := 0

	for i, ev := range events {
		if ev.Outcome == OutcomeUnknown {
			continue
		}
		if ev.EntityID == "" || ev.EntityID == UnattributedEntity {
			unattributed++
			continue
		}

		tally, ok := tallies[ev.EntityID]
		if !ok {
			tally = &entityTally{subTasks: make(map[string]*subTaskTally)}
			tallies[ev.EntityID] = tally
		}

		if ev.Timestamp.After(tally.lastRun) {
			tally.lastRun = ev.Timestamp
		}

		switch ev.Outcome {
		case OutcomeSuccess:
			tally.successes++
		case OutcomeFailure:
			tally.failures++
			st, ok := tally.subTasks[ev.SubTaskID]
			if !ok {
				st = &subTaskTally{firstFail: i}
				tally.subTasks[ev.SubTaskID] = st
			}
			st.failures++
		}
	}

	metrics := make(map[string]*PerformanceMetrics, len(tallies))
	for id, tally := range tallies {
		metrics[id] = tally.finalize()
	}

	if unattributed > 0 {
		slog.Warn("telemetry: events without entity attribution skipped",
			"count", unattributed)
	}
	return Aggregation{Metrics: metrics, Unattributed: unattributed}
}

// finalize converts the accumulator into immutable metrics.
func (t *entityTally) finalize() *PerformanceMetrics {
	pm := &PerformanceMetrics{
		TotalRuns:     t.successes + t.failures,
		TotalFailures: t.failures,
	}
	if pm.TotalRuns > 0 {
		rate := float64(pm.TotalRuns-pm.TotalFailures) / float64(pm.TotalRuns)
		pm.SuccessRate = &rate
	}
	if !t.lastRun.IsZero() {
		ts := t.lastRun
		pm.LastRunTimestamp = &ts
	}
	pm.MostFailingSubTask = t.mostFailing()
	return pm
}

// mostFailing picks the sub-task with the highest failure count, breaking
// ties by earliest first-failure position.
func (t *entityTally) mostFailing() string {
	var winner string
	best := &subTaskTally{failures: 0, firstFail: int(^uint(0) >> 1)}
	for id, st := range t.subTasks {
		if st.failures > best.failures ||
			(st.failures == best.failures && st.firstFail < best.firstFail) {
			winner, best = id, st
		}
	}
	return winner
}

// RunCounts is a pre-aggregated success/failure pair from a supplemental
// metrics source (e.g. a statsd exporter). It carries no sub-task
// attribution.
type RunCounts struct {
	Success int
	Failed  int
	LastRun time.Time
}

// MergeCounts folds supplemental run counts into an existing metrics map,
// creating entries for entities only the metrics source knows about. Success
// rates are recomputed for every touched entity.
func MergeCounts(metrics map[string]*PerformanceMetrics, counts map[string]RunCounts) {
	for id, c := range counts {
		if id == "" || id == UnattributedEntity {
			continue
		}
		pm, ok := metrics[id]
		if !ok {
			pm = &PerformanceMetrics{}
			metrics[id] = pm
		}
		pm.TotalRuns += c.Success + c.Failed
		pm.TotalFailures += c.Failed
		if !c.LastRun.IsZero() && (pm.LastRunTimestamp == nil || c.LastRun.After(*pm.LastRunTimestamp)) {
			ts := c.LastRun
			pm.LastRunTimestamp = &ts
		}
		if pm.TotalRuns > 0 {
			rate := float64(pm.TotalRuns-pm.TotalFailures) / float64(pm.TotalRuns)
			pm.SuccessRate = &rate
		}
	}
}
