package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dagsentry/dagsentry/internal/alerts"
	"github.com/dagsentry/dagsentry/internal/analysis"
	"github.com/dagsentry/dagsentry/internal/audit"
	"github.com/dagsentry/dagsentry/internal/classify"
	"github.com/dagsentry/dagsentry/internal/config"
	"github.com/dagsentry/dagsentry/internal/inference"
	"github.com/dagsentry/dagsentry/internal/publish"
	"github.com/dagsentry/dagsentry/internal/report"
	"github.com/dagsentry/dagsentry/internal/sources"
	"github.com/dagsentry/dagsentry/internal/synthesis"
	"github.com/dagsentry/dagsentry/internal/telemetry"
)

// errNoData marks a pass where every configured source came back empty.
var errNoData = errors.New("no data collected from any source")

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", false, "re-run the analysis when the config or input files change")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("dagsentry starting", "config", *configPath, "watch", *watch)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"inference_url", cfg.Inference.URL,
		"model", cfg.Inference.Model,
		"output", cfg.Output.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alertEngine := alerts.New(cfg.Alerts)

	if err := runPass(ctx, cfg, alertEngine); err != nil {
		slog.Error("analysis pass failed", "err", err)
		if !*watch {
			os.Exit(1)
		}
	}

	if !*watch {
		return
	}

	// Watch mode: any change to the config or an input file triggers a fresh
	// pass. A failed pass keeps the previous report on disk. When a config
	// reload moves an input path, the watcher is restarted on the new set.
	for ctx.Err() == nil {
		paths := watchSet(*configPath, cfg)
		wctx, stopWatch := context.WithCancel(ctx)
		restart := false

		err = config.Watch(wctx, paths, func(path string) {
			slog.Info("input changed — re-running analysis", "path", path)
			if path == *configPath {
				updated, err := config.Load(*configPath)
				if err != nil {
					slog.Error("config reload failed — keeping previous config", "err", err)
				} else {
					cfg = updated
					if !slices.Equal(watchSet(*configPath, cfg), paths) {
						restart = true
					}
				}
			}
			if err := runPass(ctx, cfg, alertEngine); err != nil {
				slog.Error("analysis pass failed — previous report kept", "err", err)
			}
			if restart {
				slog.Info("input paths changed — restarting watcher")
				stopWatch()
			}
		})
		stopWatch()

		if err != nil && ctx.Err() == nil {
			slog.Error("watcher stopped", "err", err)
			os.Exit(1)
		}
		if !restart {
			break
		}
	}
	slog.Info("dagsentry shutting down")
}

// watchSet is the ordered list of paths watch mode monitors for the given
// config: the config file itself plus every configured filesystem input.
func watchSet(configPath string, cfg *config.Config) []string {
	paths := []string{configPath}
	if cfg.Sources.EventsPath != "" {
		paths = append(paths, cfg.Sources.EventsPath)
	}
	if cfg.Sources.ErrorsPath != "" {
		paths = append(paths, cfg.Sources.ErrorsPath)
	}
	if cfg.Sources.DAGDir != "" {
		paths = append(paths, cfg.Sources.DAGDir)
	}
	return paths
}

// runPass executes one full analysis: collect → aggregate → classify →
// audit/analyze → synthesize → report → alerts → publish.
func runPass(ctx context.Context, cfg *config.Config, alertEngine *alerts.Engine) error {
	start := time.Now()
	client := inference.New(cfg.Inference)

	// Collect. Each source fails independently; the pass only aborts when
	// every source comes back empty.
	var srcs []audit.Source
	if cfg.Sources.DAGDir != "" {
		var err error
		srcs, err = sources.ListEntitySources(cfg.Sources.DAGDir)
		if err != nil {
			slog.Warn("definition source unavailable", "err", err)
		}
	}

	// Both log readers share one window cutoff so a pass never mixes fresh
	// events with stale errors.
	since := time.Now().UTC().Add(-cfg.Sources.Window)

	var events []telemetry.ExecutionEvent
	if cfg.Sources.EventsPath != "" {
		var err error
		events, err = sources.ReadEvents(cfg.Sources.EventsPath, since)
		if err != nil {
			slog.Warn("event source unavailable", "err", err)
		}
	}

	var rawErrors []classify.RawError
	if cfg.Sources.ErrorsPath != "" {
		var err error
		rawErrors, err = sources.ReadErrorLines(cfg.Sources.ErrorsPath, since, cfg.Sources.MaxErrorLines)
		if err != nil {
			slog.Warn("error-log source unavailable", "err", err)
		}
	}

	var counts map[string]telemetry.RunCounts
	if cfg.Sources.MetricsEndpoint != "" {
		var err error
		counts, err = sources.NewMetricsClient(cfg.Sources.MetricsEndpoint).FetchCounts(ctx)
		if err != nil {
			slog.Warn("metrics source unavailable", "err", err)
		}
	}

	if len(srcs) == 0 && len(events) == 0 && len(rawErrors) == 0 && len(counts) == 0 {
		return errNoData
	}
	slog.Info("sources collected",
		"definitions", len(srcs),
		"events", len(events),
		"error_lines", len(rawErrors),
		"metric_entities", len(counts),
	)

	// Aggregate telemetry and fold in the supplemental counters.
	agg := telemetry.Aggregate(events)
	telemetry.MergeCounts(agg.Metrics, counts)

	// One availability probe gates every AI stage: an unreachable service
	// degrades to deterministic fallbacks everywhere instead of timing out
	// per call.
	available := client.Available(ctx)

	var (
		findings map[string]*audit.Finding
		analyses []analysis.ErrorAnalysis
	)
	if available {
		findings = audit.NewAuditor(client, cfg.Workers.Audit).AuditAll(ctx, srcs)
		analyses = analysis.NewAnalyzer(client, cfg.Workers.Analysis).AnalyzeAll(ctx, rawErrors)
	} else {
		slog.Warn("inference service unavailable — skipping audit, degrading error analysis",
			"url", cfg.Inference.URL, "model", cfg.Inference.Model)
		analyses = analysis.Fallbacks(rawErrors)
	}

	records := synthesis.NewEngine(client, cfg.Workers.Synthesis).Run(ctx, synthesis.Inputs{
		Performance: agg.Metrics,
		Audits:      findings,
		Errors:      analysis.ByEntity(analyses),
	}, available)

	doc := report.Build(records, agg.Unattributed)
	if err := report.Write(doc, cfg.Output.Path); err != nil {
		return err
	}
	slog.Info("report written",
		"path", cfg.Output.Path,
		"run_id", doc.RunID,
		"entities", doc.EntityCount,
		"degraded", doc.DegradedCount,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if fired := alertEngine.Evaluate(records); len(fired) > 0 {
		slog.Info("alerts evaluated", "fired", len(fired))
	}

	if p := publish.New(cfg.Output.PublishURL()); p.Enabled() {
		if err := p.Publish(ctx, doc); err != nil {
			slog.Warn("report publish failed", "err", err)
		}
	}
	return nil
}
