// Package config loads and watches the dagsentry configuration file
// (config.yaml).
//
// Top-level types:
//   - Config{Inference, Sources, Workers, Output, Alerts} — full config tree
//     parsed from YAML
//   - InferenceConfig — url, model, timeout, temperature for the local
//     inference endpoint; constructed once and passed to every caller
//   - SourcesConfig — dag_dir, events_path, errors_path, metrics_endpoint,
//     window, max_error_lines
//   - WorkersConfig — audit, analysis, synthesis pool sizes
//   - OutputConfig — report path plus publish_url_env; PublishURL() resolves
//     the dashboard ingest URL from the environment
//   - AlertsConfig — threshold rules and webhook targets; WebhookConfig.URL()
//     resolves delivery URLs from environment variables
//
// Load(path) reads the YAML file, applies defaults (llama3.2 at
// localhost:11434, 120s call timeout, pool sizes 3/5/4, 24h window), then
// validates required fields and enums.
//
// Watch(ctx, paths, onChange) uses fsnotify to detect changes to the config
// file and the telemetry input files, debounced so one save triggers one
// re-run. It handles the rename→create pattern used by atomic-save editors
// by re-adding the watch after a create event.
package config
