package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dagsentry/dagsentry/internal/synthesis"
)

func sampleRecords() map[string]*synthesis.Record {
	return map[string]*synthesis.Record{
		"zeta": {
			EntityID:         "zeta",
			ExecutiveSummary: "fine",
			HealthScore:      90,
			Priority:         synthesis.PriorityLow,
		},
		"alpha": {
			EntityID:         "alpha",
			ExecutiveSummary: "degraded run",
			HealthScore:      35,
			Priority:         synthesis.PriorityCritical,
			Degraded:         true,
		},
	}
}

func TestBuild(t *testing.T) {
	doc := Build(sampleRecords(), 3)

	if doc.RunID == "" {
		t.Error("empty RunID")
	}
	if doc.GeneratedAt.IsZero() {
		t.Error("zero GeneratedAt")
	}
	if doc.EntityCount != 2 || doc.DegradedCount != 1 || doc.Unattributed != 3 {
		t.Errorf("counts = %d/%d/%d, want 2/1/3",
			doc.EntityCount, doc.DegradedCount, doc.Unattributed)
	}
	if doc.Entities[0].EntityID != "alpha" || doc.Entities[1].EntityID != "zeta" {
		t.Errorf("entities not sorted: %s, %s",
			doc.Entities[0].EntityID, doc.Entities[1].EntityID)
	}
}

func TestWrite_FieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	if err := Write(Build(sampleRecords(), 0), path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	for _, key := range []string{"run_id", "generated_at", "entity_count", "degraded_count", "entities"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("envelope missing key %q", key)
		}
	}

	var entities []map[string]json.RawMessage
	if err := json.Unmarshal(raw["entities"], &entities); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"entity_id", "executive_summary", "health_score", "priority", "key_recommendations"} {
		if _, ok := entities[0][key]; !ok {
			t.Errorf("record missing key %q", key)
		}
	}
}

func TestWrite_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	if err := Write(Build(sampleRecords(), 0), path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "report.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only report.json", names)
	}
}
