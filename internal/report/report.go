// Package report serializes a run's synthesized records into the canonical
// JSON document and writes it atomically.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dagsentry/dagsentry/internal/synthesis"
)

// Document is the top-level report envelope. Entities are emitted as a sorted
// slice so two runs over the same inputs produce byte-identical output
// modulo run_id and generated_at.
type Document struct {
	RunID         string              `json:"run_id"`
	GeneratedAt   time.Time           `json:"generated_at"`
	EntityCount   int                 `json:"entity_count"`
	DegradedCount int                 `json:"degraded_count"`
	Unattributed  int                 `json:"unattributed_events,omitempty"`
	Entities      []*synthesis.Record `json:"entities"`
}

// Build assembles the envelope around the synthesized records.
func Build(records map[string]*synthesis.Record, unattributed int) *Document {
	doc := &Document{
		RunID:        uuid.NewString(),
		GeneratedAt:  time.Now().UTC(),
		EntityCount:  len(records),
		Unattributed: unattributed,
		Entities:     make([]*synthesis.Record, 0, len(records)),
	}
	for _, rec := range records {
		doc.Entities = append(doc.Entities, rec)
		if rec.Degraded {
			doc.DegradedCount++
		}
	}
	sort.Slice(doc.Entities, func(i, j int) bool {
		return doc.Entities[i].EntityID < doc.Entities[j].EntityID
	})
	return doc
}

// Write marshals the document and writes it to path via a temp file in the
// same directory plus rename, so a reader never observes a partial report.
// Parent directories are created as needed.
func Write(doc *Document, path string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: create output dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("report: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("report: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename into place: %w", err)
	}
	return nil
}
