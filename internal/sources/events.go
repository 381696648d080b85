package sources

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dagsentry/dagsentry/internal/classify"
	"github.com/dagsentry/dagsentry/internal/telemetry"
)

// maxLineSize bounds a single JSONL record; task-log messages can carry full
// tracebacks.
const maxLineSize = 1 << 20

// contextRadius is how many lines around an ERROR line are captured.
const contextRadius = 2

// logEvent is one exported task-log record, one JSON object per line. The
// field names follow the CloudWatch export format the logs originate from.
type logEvent struct {
	LogStreamName string `json:"logStreamName"`
	Message       string `json:"message"`
	Timestamp     int64  `json:"timestamp"` // epoch milliseconds
}

// ReadEvents parses a JSONL task-log file into execution events. Events older
// than since are dropped (zero since disables the cutoff). Malformed lines
// are counted and skipped, never fatal; only opening the file can fail.
func ReadEvents(path string, since time.Time) ([]telemetry.ExecutionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sources: open events file %q: %w", path, err)
	}
	defer f.Close()

	var (
		events    []telemetry.ExecutionEvent
		malformed int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev logEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			malformed++
			continue
		}
		ts := time.UnixMilli(ev.Timestamp).UTC()
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		entity, subTask, run := parseStream(ev.LogStreamName)
		events = append(events, telemetry.ExecutionEvent{
			EntityID:  entity,
			SubTaskID: subTask,
			RunID:     run,
			Outcome:   telemetry.ClassifyOutcome(ev.Message),
			Timestamp: ts,
		})
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("sources: scan events file %q: %w", path, err)
	}
	if malformed > 0 {
		slog.Warn("sources: malformed event lines skipped", "path", path, "count", malformed)
	}
	return events, nil
}

// ReadErrorLines scans a JSONL task-log file for ERROR lines, capturing the
// surrounding context and a preliminary classification per hit. Records older
// than since are dropped (zero since disables the cutoff), matching the
// window ReadEvents applies. At most maxCount errors are returned; the rest
// of the file is not read once the cap is reached.
func ReadErrorLines(path string, since time.Time, maxCount int) ([]classify.RawError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sources: open errors file %q: %w", path, err)
	}
	defer f.Close()

	var (
		errs      []classify.RawError
		malformed int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
scan:
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev logEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			malformed++
			continue
		}
		if !since.IsZero() && time.UnixMilli(ev.Timestamp).UTC().Before(since) {
			continue
		}
		entity, subTask, _ := parseStream(ev.LogStreamName)

		lines := strings.Split(ev.Message, "\n")
		for i, l := range lines {
			if !strings.Contains(l, "ERROR") {
				continue
			}
			lo := max(0, i-contextRadius)
			hi := min(len(lines), i+contextRadius+1)
			ctx := make([]string, hi-lo)
			copy(ctx, lines[lo:hi])

			errs = append(errs, classify.New(entity, subTask, l, ctx))
			if maxCount > 0 && len(errs) >= maxCount {
				slog.Warn("sources: error line cap reached", "path", path, "cap", maxCount)
				break scan
			}
		}
	}
	if err := sc.Err(); err != nil {
		return errs, fmt.Errorf("sources: scan errors file %q: %w", path, err)
	}
	if malformed > 0 {
		slog.Warn("sources: malformed error lines skipped", "path", path, "count", malformed)
	}
	return errs, nil
}

// parseStream splits an Airflow log stream name into its entity, sub-task,
// and run components. Both plain (dag/task/run/try.log) and key=value
// (dag_id=x/task_id=y/run_id=z/1.log) forms are handled; anything shorter
// collapses to the unattributed sentinel.
func parseStream(stream string) (entity, subTask, run string) {
	parts := strings.Split(stream, "/")
	if len(parts) < 3 {
		u := telemetry.UnattributedEntity
		return u, u, u
	}
	return afterKey(parts[0]), afterKey(parts[1]), parts[2]
}

func afterKey(s string) string {
	if i := strings.LastIndex(s, "="); i >= 0 {
		return s[i+1:]
	}
	return s
}
