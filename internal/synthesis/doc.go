// Package synthesis merges performance telemetry, code-audit findings, and
// per-error analyses into one scored health record per entity. Each entity
// gets a single AI call; when the inference service is unreachable or returns
// unusable output, a deterministic fallback derives the score and priority
// from the collected telemetry so every run still produces complete records.
package synthesis
