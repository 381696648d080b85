package sources

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dagsentry/dagsentry/internal/audit"
)

// dagIDPattern matches dag_id declarations in pipeline definition files,
// covering both DAG(dag_id="x") and dag_id='x' keyword forms.
var dagIDPattern = regexp.MustCompile(`dag_id\s*=\s*["']([^"']+)["']`)

// ListEntitySources scans dir (non-recursive) for .py pipeline definitions
// and returns one Source per declared dag_id. Files that never mention DAG
// are skipped; files declaring no dag_id fall back to the file stem as the
// entity ID. An unreadable file degrades only itself.
func ListEntitySources(dir string) ([]audit.Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sources: read dag dir %q: %w", dir, err)
	}

	byID := make(map[string]audit.Source)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("sources: definition file skipped", "path", path, "err", err)
			continue
		}
		code := string(data)
		if !strings.Contains(code, "DAG") {
			continue
		}

		ids := declaredIDs(code)
		if len(ids) == 0 {
			ids = []string{strings.TrimSuffix(entry.Name(), ".py")}
		}
		for _, id := range ids {
			// First declaration wins when two files claim the same ID.
			if _, ok := byID[id]; !ok {
				byID[id] = audit.Source{EntityID: id, Code: code}
			}
		}
	}

	srcs := make([]audit.Source, 0, len(byID))
	for _, src := range byID {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i].EntityID < srcs[j].EntityID })
	return srcs, nil
}

func declaredIDs(code string) []string {
	var ids []string
	for _, m := range dagIDPattern.FindAllStringSubmatch(code, -1) {
		if m[1] != "" {
			ids = append(ids, m[1])
		}
	}
	return ids
}
