package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Risk levels assigned to audited pipeline definitions.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

const systemPrompt = "You are an experienced code reviewer for Apache Airflow DAGs. " +
	"Be concise but accurate. Return only a valid JSON object."

// Inferencer is the inference-client contract the auditor needs.
type Inferencer interface {
	Infer(ctx context.Context, prompt, system string, out any) error
}

// Source is one pipeline definition under audit.
type Source struct {
	EntityID string
	Code     string
}

// Finding is the AI-derived judgment on an entity's source code. Immutable
// once produced; the synthesis engine treats it as opaque input.
type Finding struct {
	EntityID    string   `json:"entity_id"`
	RiskLevel   string   `json:"risk_level"`
	Summary     string   `json:"summary"`
	Problems    []string `json:"problems"`
	Suggestions string   `json:"suggestions"`
	CodeFix     string   `json:"code_fix,omitempty"`
}

// Auditor reviews pipeline definition files through the inference client.
type Auditor struct {
	client  Inferencer
	workers int
}

// NewAuditor builds an Auditor with a worker pool of the given size.
func NewAuditor(client Inferencer, workers int) *Auditor {
	if workers <= 0 {
		workers = 1
	}
	return &Auditor{client: client, workers: workers}
}

// AuditAll reviews every source over a bounded worker pool and returns the
// findings keyed by entity ID. A failed audit degrades only that entity: it
// is logged and left out of the result, never aborting the batch.
func (a *Auditor) AuditAll(ctx context.Context, srcs []Source) map[string]*Finding {
	results := make([]*Finding, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			finding, err := a.audit(ctx, src)
			if err != nil {
				slog.Warn("audit: entity skipped", "entity", src.EntityID, "err", err)
				return nil
			}
			results[i] = finding
			return nil
		})
	}
	// Workers never return errors; Wait is the join barrier.
	_ = g.Wait()

	findings := make(map[string]*Finding, len(srcs))
	for _, f := range results {
		if f != nil {
			findings[f.EntityID] = f
		}
	}
	return findings
}

// findingResponse is the schema hint sent to the model.
type findingResponse struct {
	Summary     string   `json:"summary"`
	Problems    []string `json:"problems"`
	RiskLevel   string   `json:"risk_level"`
	Suggestions string   `json:"suggestions"`
	CodeFix     string   `json:"code_fix"`
}

// audit issues one inference call for a single source file.
func (a *Auditor) audit(ctx context.Context, src Source) (*Finding, error) {
	var resp findingResponse
	if err := a.client.Infer(ctx, auditPrompt(src), systemPrompt, &resp); err != nil {
		return nil, err
	}

	return &Finding{
		EntityID:    src.EntityID,
		RiskLevel:   normalizeRisk(resp.RiskLevel),
		Summary:     resp.Summary,
		Problems:    resp.Problems,
		Suggestions: resp.Suggestions,
		CodeFix:     resp.CodeFix,
	}, nil
}

// auditPrompt builds the review request for one pipeline definition.
func auditPrompt(src Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Focus your analysis on the pipeline with id '%s'. ", src.EntityID)
	b.WriteString("If the file defines several pipelines, analyze only this one.\n\n")
	b.WriteString("Carefully analyze the following pipeline source code and provide:\n")
	b.WriteString("1. A clear summary of what the pipeline does (max 5 lines).\n")
	b.WriteString("2. Potential issues or bad practices (missing retries, hardcoded paths, " +
		"improper scheduling, deprecated operators, lack of docstrings).\n")
	b.WriteString("3. A risk level: LOW, MEDIUM, or HIGH.\n")
	b.WriteString("4. Practical suggestions to improve it, with a sample code fix if applicable.\n\n")
	b.WriteString("Return your answer strictly as a JSON object with keys: " +
		`"summary" (string), "problems" (list of strings), "risk_level" ("LOW"|"MEDIUM"|"HIGH"), ` +
		`"suggestions" (string), "code_fix" (string or null).` + "\n\n")
	fmt.Fprintf(&b, "Code to analyze:\n```python\n%s\n```", src.Code)
	return b.String()
}

// normalizeRisk maps whatever the model produced onto the known levels.
// Junk defaults to MEDIUM rather than silently reading as low risk.
func normalizeRisk(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	default:
		return RiskMedium
	}
}
