package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dagsentry/dagsentry/internal/classify"
)

// Severity levels assigned to analyzed errors.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

const systemPrompt = "You are an expert Apache Airflow and Python developer specializing " +
	"in debugging pipeline errors. Analyze the provided error and context. Your response " +
	"MUST be a single, valid JSON object and nothing else."

// Inferencer is the inference-client contract the analyzer needs.
type Inferencer interface {
	Infer(ctx context.Context, prompt, system string, out any) error
}

// ErrorAnalysis is the AI-derived judgment on one raw error. Immutable once
// produced.
type ErrorAnalysis struct {
	EntityID     string `json:"entity_id"`
	SubTaskID    string `json:"sub_task_id,omitempty"`
	Category     string `json:"category"`
	Severity     string `json:"severity"`
	RootCause    string `json:"root_cause"`
	SuggestedFix string `json:"suggested_fix"`
	CodePatch    string `json:"code_patch,omitempty"`

	// Degraded is set when the inference call failed and the analysis fell
	// back to the deterministic classification.
	Degraded bool `json:"degraded,omitempty"`
}

// Analyzer runs the per-error inference fan-out. Its pool is sized
// independently of the synthesis pool since error volume can exceed entity
// count.
type Analyzer struct {
	client  Inferencer
	workers int
}

// NewAnalyzer builds an Analyzer with a worker pool of the given size.
func NewAnalyzer(client Inferencer, workers int) *Analyzer {
	if workers <= 0 {
		workers = 1
	}
	return &Analyzer{client: client, workers: workers}
}

// AnalyzeAll analyzes every raw error over a bounded worker pool. The result
// preserves input order (workers write to index-assigned slots, joined after
// the pool drains). A failed call degrades only its own item: the entry falls
// back to the classifier's category with MEDIUM severity.
func (a *Analyzer) AnalyzeAll(ctx context.Context, raws []classify.RawError) []ErrorAnalysis {
	results := make([]ErrorAnalysis, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			results[i] = a.analyze(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// analysisResponse is the schema hint sent to the model.
type analysisResponse struct {
	Category     string `json:"category"`
	Severity     string `json:"severity"`
	RootCause    string `json:"root_cause"`
	SuggestedFix string `json:"suggested_fix"`
	CodePatch    string `json:"code_patch"`
}

// analyze issues one inference call for one raw error.
func (a *Analyzer) analyze(ctx context.Context, raw classify.RawError) ErrorAnalysis {
	var resp analysisResponse
	if err := a.client.Infer(ctx, errorPrompt(raw), systemPrompt, &resp); err != nil {
		slog.Warn("analysis: falling back to classifier category",
			"entity", raw.EntityID, "category", raw.Category, "err", err)
		return fallback(raw)
	}

	out := ErrorAnalysis{
		EntityID:     raw.EntityID,
		SubTaskID:    raw.SubTaskID,
		Category:     resp.Category,
		Severity:     normalizeSeverity(resp.Severity),
		RootCause:    resp.RootCause,
		SuggestedFix: resp.SuggestedFix,
		CodePatch:    resp.CodePatch,
	}
	if out.Category == "" {
		out.Category = raw.Category
	}
	return out
}

// Fallbacks converts a raw error batch straight to deterministic analyses,
// used when the inference service fails its pre-flight check and no per-error
// call is worth attempting.
func Fallbacks(raws []classify.RawError) []ErrorAnalysis {
	if len(raws) == 0 {
		return nil
	}
	out := make([]ErrorAnalysis, len(raws))
	for i, raw := range raws {
		out[i] = fallback(raw)
	}
	return out
}

// fallback is the deterministic analysis used when the model is of no help.
func fallback(raw classify.RawError) ErrorAnalysis {
	return ErrorAnalysis{
		EntityID:  raw.EntityID,
		SubTaskID: raw.SubTaskID,
		Category:  raw.Category,
		Severity:  SeverityMedium,
		RootCause: "AI analysis unavailable; category derived from error signature.",
		Degraded:  true,
	}
}

// errorPrompt builds the analysis request for one raw error.
func errorPrompt(raw classify.RawError) string {
	var b strings.Builder
	b.WriteString("Analyze the following pipeline task error and respond with a structured JSON object.\n\n")
	fmt.Fprintf(&b, "Pipeline: %s\n", raw.EntityID)
	fmt.Fprintf(&b, "Task: %s\n", raw.SubTaskID)
	fmt.Fprintf(&b, "Error Type: %s\n", raw.Category)
	fmt.Fprintf(&b, "Error Line: %s\n\n", raw.ErrorLine)
	if len(raw.ContextLines) > 0 {
		b.WriteString("Context:\n")
		for _, line := range raw.ContextLines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	b.WriteString("Respond with ONLY these keys:\n" +
		`- "category": a brief error category` + "\n" +
		`- "severity": "HIGH", "MEDIUM", or "LOW"` + "\n" +
		`- "root_cause": a concise one-sentence explanation` + "\n" +
		`- "suggested_fix": actionable steps to fix the issue` + "\n" +
		`- "code_patch": a small relevant code snippet, or null`)
	return b.String()
}

// normalizeSeverity maps model output onto the known levels, defaulting to
// MEDIUM for junk.
func normalizeSeverity(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// ByEntity groups analyses under their entity IDs, preserving input order
// within each group. Unattributed analyses are dropped from the grouping.
func ByEntity(analyses []ErrorAnalysis) map[string][]ErrorAnalysis {
	grouped := make(map[string][]ErrorAnalysis)
	for _, ea := range analyses {
		if ea.EntityID == "" {
			continue
		}
		grouped[ea.EntityID] = append(grouped[ea.EntityID], ea)
	}
	return grouped
}
