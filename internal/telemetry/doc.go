// Package telemetry turns raw execution events into per-entity performance
// metrics.
//
// event.go defines ExecutionEvent and the fixed success/failure markers used
// to classify raw task-log payloads (ClassifyOutcome). Payloads matching
// neither marker are ignored by aggregation.
//
// aggregate.go provides the pure Aggregate(events) transformation: run and
// failure counts, success rate (nil for zero runs — unknown health, not 0%),
// last-run timestamp, and the most-failing sub-task with a deterministic
// first-failure tie-break. MergeCounts folds pre-aggregated counts from a
// supplemental metrics source into the same map.
package telemetry
