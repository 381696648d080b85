package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dagsentry/dagsentry/internal/analysis"
	"github.com/dagsentry/dagsentry/internal/audit"
	"github.com/dagsentry/dagsentry/internal/inference"
	"github.com/dagsentry/dagsentry/internal/telemetry"
)

// digestLimit caps how many errors are summarized into the synthesis prompt.
// Only category and severity are embedded, never full error text, to bound
// prompt size.
const digestLimit = 10

const systemPrompt = "You are a senior data-pipeline operations engineer. Provide a concise, " +
	"actionable JSON assessment of a pipeline based on its performance stats, code audit, " +
	"and runtime errors. Return a valid JSON object only."

// Inferencer is the inference-client contract the engine needs. The caller
// performs the pre-flight availability check once per pass and hands the
// result to Run, so the engine itself never probes the service.
type Inferencer interface {
	Infer(ctx context.Context, prompt, system string, out any) error
}

// Inputs carries the three upstream source outputs, each keyed by entity ID.
// Absence of an entity in any map is tolerated and only degrades that
// entity's synthesis input.
type Inputs struct {
	Performance map[string]*telemetry.PerformanceMetrics
	Audits      map[string]*audit.Finding
	Errors      map[string][]analysis.ErrorAnalysis
}

// entityData is the collected upstream state for one entity.
type entityData struct {
	perf *telemetry.PerformanceMetrics
	aud  *audit.Finding
	errs []analysis.ErrorAnalysis
}

func (d entityData) empty() bool {
	return d.perf == nil && d.aud == nil && len(d.errs) == 0
}

// Engine merges all upstream sources into one canonical record per entity,
// issuing one inference call per entity over a bounded worker pool.
type Engine struct {
	client  Inferencer
	workers int
}

// NewEngine builds an Engine with a synthesis pool of the given size.
func NewEngine(client Inferencer, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{client: client, workers: workers}
}

// Run synthesizes a record for every entity present in at least one input
// source. Entities with no data at all are skipped. available is the caller's
// pre-flight check result; false short-circuits the batch — no per-entity
// call is attempted and every entity receives a deterministic fallback
// record.
//
// Workers own their input entity and write to index-assigned slots; the
// result map is assembled only after the pool has fully drained.
func (e *Engine) Run(ctx context.Context, in Inputs, available bool) map[string]*Record {
	ids := entityIDs(in)
	if len(ids) == 0 {
		return map[string]*Record{}
	}

	if !available {
		slog.Warn("synthesis: inference service unavailable — emitting fallback records",
			"entities", len(ids))
		out := make(map[string]*Record, len(ids))
		for _, id := range ids {
			d := collect(in, id)
			if d.empty() {
				continue
			}
			out[id] = fallbackRecord(id, d, "inference service unavailable")
		}
		return out
	}

	results := make([]*Record, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		i, id := i, id
		d := collect(in, id)
		if d.empty() {
			slog.Debug("synthesis: entity skipped — no upstream data", "entity", id)
			continue
		}
		g.Go(func() error {
			results[i] = e.synthesize(ctx, id, d)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*Record, len(ids))
	for i, rec := range results {
		if rec != nil {
			out[ids[i]] = rec
		}
	}
	return out
}

// entityIDs returns the sorted union of entity keys across all sources,
// excluding the unattributed sentinel.
func entityIDs(in Inputs) []string {
	seen := make(map[string]struct{})
	for id := range in.Performance {
		seen[id] = struct{}{}
	}
	for id := range in.Audits {
		seen[id] = struct{}{}
	}
	for id := range in.Errors {
		seen[id] = struct{}{}
	}
	delete(seen, telemetry.UnattributedEntity)
	delete(seen, "")

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func collect(in Inputs, id string) entityData {
	return entityData{
		perf: in.Performance[id],
		aud:  in.Audits[id],
		errs: in.Errors[id],
	}
}

// judgment is the schema hint for the per-entity executive call. HealthScore
// stays raw until validation: models return it as an int, float, or quoted
// string.
type judgment struct {
	ExecutiveSummary   string          `json:"executive_summary"`
	HealthScore        json.RawMessage `json:"health_score"`
	Priority           string          `json:"priority"`
	KeyRecommendations []string        `json:"key_recommendations"`
}

// synthesize walks one entity through collect → compose → invoke → validate →
// emit. It always returns a record: inference failure switches to the
// deterministic fallback path instead of dropping the entity.
func (e *Engine) synthesize(ctx context.Context, id string, d entityData) *Record {
	var j judgment
	if err := e.client.Infer(ctx, composePrompt(id, d), systemPrompt, &j); err != nil {
		reason := string(inference.ReasonOf(err))
		if reason == "" {
			reason = "error"
		}
		slog.Warn("synthesis: inference failed — using fallback",
			"entity", id, "reason", reason)
		return fallbackRecord(id, d, fmt.Sprintf("inference failed (%s)", reason))
	}

	rec := &Record{
		EntityID:           id,
		Performance:        d.perf,
		Audit:              d.aud,
		Errors:             d.errs,
		ExecutiveSummary:   j.ExecutiveSummary,
		KeyRecommendations: j.KeyRecommendations,
	}

	score, clamped, ok := parseScore(j.HealthScore)
	if !ok {
		score = deriveScore(d)
		rec.Degraded = true
		slog.Warn("synthesis: unusable health score — derived from telemetry",
			"entity", id, "raw", string(j.HealthScore), "derived", score)
	} else if clamped {
		rec.Degraded = true
		slog.Warn("synthesis: health score clamped", "entity", id, "score", score)
	}
	rec.HealthScore = score

	if p, known := parsePriority(j.Priority); known {
		rec.Priority = p
	} else {
		rec.Priority = PriorityFromScore(score)
		rec.Degraded = true
		slog.Warn("synthesis: unknown priority tier — derived from score",
			"entity", id, "raw", j.Priority, "priority", rec.Priority)
	}

	if rec.ExecutiveSummary == "" {
		rec.ExecutiveSummary = fallbackSummary(d, "model returned no summary")
		rec.Degraded = true
	}
	return rec
}

// fallbackRecord builds the deterministic best-effort record emitted when no
// usable AI output exists for an entity. Score and priority follow the
// documented derivation rules so re-runs produce identical results.
func fallbackRecord(id string, d entityData, cause string) *Record {
	score := deriveScore(d)
	return &Record{
		EntityID:           id,
		Performance:        d.perf,
		Audit:              d.aud,
		Errors:             d.errs,
		ExecutiveSummary:   fallbackSummary(d, cause),
		HealthScore:        score,
		Priority:           PriorityFromScore(score),
		KeyRecommendations: fallbackRecommendations(d),
		Degraded:           true,
	}
}

// fallbackSummary names the degradation cause and the strongest available
// facts so the record is still useful to an operator.
func fallbackSummary(d entityData, cause string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assessment degraded: %s.", cause)
	if d.perf != nil && d.perf.SuccessRate != nil {
		fmt.Fprintf(&b, " Success rate %.0f%% over %d runs (%d failures).",
			*d.perf.SuccessRate*100, d.perf.TotalRuns, d.perf.TotalFailures)
	}
	if d.aud != nil {
		fmt.Fprintf(&b, " Code audit risk: %s.", d.aud.RiskLevel)
	}
	if n := len(d.errs); n > 0 {
		fmt.Fprintf(&b, " %d recent errors recorded.", n)
	}
	return b.String()
}

// fallbackRecommendations derives actionable pointers from the telemetry
// alone.
func fallbackRecommendations(d entityData) []string {
	var recs []string
	if d.perf != nil && d.perf.MostFailingSubTask != "" {
		recs = append(recs, fmt.Sprintf("Investigate sub-task %q — highest failure count.",
			d.perf.MostFailingSubTask))
	}
	if d.aud != nil && d.aud.RiskLevel == audit.RiskHigh {
		recs = append(recs, "Review high-risk code audit findings.")
	}
	recs = append(recs, "Re-run the analysis once the inference service is reachable.")
	return recs
}

// composePrompt embeds the available metrics, audit result, and a bounded
// error digest into one natural-language description.
func composePrompt(id string, d entityData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the comprehensive data for the pipeline '%s'.\n\n", id)

	if d.perf != nil {
		b.WriteString("Performance:\n")
		fmt.Fprintf(&b, "- total runs: %d\n", d.perf.TotalRuns)
		fmt.Fprintf(&b, "- total failures: %d\n", d.perf.TotalFailures)
		if d.perf.SuccessRate != nil {
			fmt.Fprintf(&b, "- success rate: %.1f%%\n", *d.perf.SuccessRate*100)
		} else {
			b.WriteString("- success rate: unknown (no observed runs)\n")
		}
		if d.perf.MostFailingSubTask != "" {
			fmt.Fprintf(&b, "- most failing task: %s\n", d.perf.MostFailingSubTask)
		}
		b.WriteByte('\n')
	} else {
		b.WriteString("Performance: no execution telemetry for this window.\n\n")
	}

	if d.aud != nil {
		fmt.Fprintf(&b, "Code audit (risk %s): %s\n", d.aud.RiskLevel, d.aud.Summary)
		for _, p := range d.aud.Problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteByte('\n')
	}

	if len(d.errs) > 0 {
		fmt.Fprintf(&b, "Recent errors (%d total, digest):\n", len(d.errs))
		for i, ea := range d.errs {
			if i == digestLimit {
				fmt.Fprintf(&b, "- ... and %d more\n", len(d.errs)-digestLimit)
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", ea.Category, ea.Severity)
		}
		b.WriteByte('\n')
	}

	b.WriteString("Provide a final assessment as a valid JSON object with these keys:\n" +
		`- "executive_summary": a 2-3 sentence overview of the pipeline's health and state` + "\n" +
		`- "health_score": an integer from 0 (broken) to 100 (perfect)` + "\n" +
		`- "priority": "CRITICAL", "HIGH", "MEDIUM", or "LOW"` + "\n" +
		`- "key_recommendations": a list of 2-3 specific, actionable recommendations`)
	return b.String()
}
