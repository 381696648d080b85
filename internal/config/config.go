package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInferenceURL     = "http://localhost:11434"
	DefaultInferenceModel   = "llama3.2"
	DefaultInferenceTimeout = 120 * time.Second
	DefaultTemperature      = 0.1

	DefaultAuditWorkers     = 3
	DefaultAnalysisWorkers  = 5
	DefaultSynthesisWorkers = 4

	DefaultMaxErrorLines = 200
	DefaultWindow        = 24 * time.Hour

	DefaultOutputPath = "reports/fleet_report.json"
)

// Config is the top-level configuration for the dagsentry binary.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Inference InferenceConfig `yaml:"inference"`
	Sources   SourcesConfig   `yaml:"sources"`
	Workers   WorkersConfig   `yaml:"workers"`
	Output    OutputConfig    `yaml:"output"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// InferenceConfig holds the connection settings for the local inference
// endpoint. A single immutable config is constructed once and passed to every
// component that issues model calls — there is no ambient global client.
type InferenceConfig struct {
	// URL is the base URL of the Ollama-compatible endpoint.
	URL string `yaml:"url"`

	// Model is the model name; availability is checked before any batch work.
	Model string `yaml:"model"`

	// Timeout bounds every single generation call.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature is passed through to the generation options.
	Temperature float64 `yaml:"temperature"`
}

// SourcesConfig locates the telemetry inputs for one analysis pass.
type SourcesConfig struct {
	// DAGDir is the directory scanned for pipeline definition files.
	DAGDir string `yaml:"dag_dir"`

	// EventsPath is the task-log event file (one JSON object per line).
	EventsPath string `yaml:"events_path"`

	// ErrorsPath is the raw task-log file scanned for ERROR lines.
	ErrorsPath string `yaml:"errors_path"`

	// MetricsEndpoint is an optional Prometheus exposition endpoint
	// (e.g. an Airflow statsd exporter) that supplements run counts.
	MetricsEndpoint string `yaml:"metrics_endpoint"`

	// Window is how far back events are considered.
	Window time.Duration `yaml:"window"`

	// MaxErrorLines caps how many error lines are extracted per pass.
	MaxErrorLines int `yaml:"max_error_lines"`
}

// WorkersConfig sizes the bounded worker pools. The error-analysis pool is
// sized separately from the synthesis pool since error volume can exceed
// entity count.
type WorkersConfig struct {
	Audit     int `yaml:"audit"`
	Analysis  int `yaml:"analysis"`
	Synthesis int `yaml:"synthesis"`
}

// OutputConfig controls where the synthesized report goes.
type OutputConfig struct {
	// Path is the JSON report file written after each pass.
	Path string `yaml:"path"`

	// PublishURLEnv is the name of the environment variable holding an
	// optional dashboard ingest URL. Empty (or unset variable) disables
	// publishing.
	PublishURLEnv string `yaml:"publish_url_env"`
}

// PublishURL returns the dashboard ingest URL resolved from the environment.
func (o OutputConfig) PublishURL() string {
	if o.PublishURLEnv == "" {
		return ""
	}
	return os.Getenv(o.PublishURLEnv)
}

// AlertsConfig holds all alerting rules and webhook targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a threshold-based alert condition evaluated against each
// synthesized record.
type AlertRule struct {
	// Name is the human-readable alert identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "health_score < 40" or
	// "priority == CRITICAL".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Inference: InferenceConfig{
			URL:         DefaultInferenceURL,
			Model:       DefaultInferenceModel,
			Timeout:     DefaultInferenceTimeout,
			Temperature: DefaultTemperature,
		},
		Sources: SourcesConfig{
			Window:        DefaultWindow,
			MaxErrorLines: DefaultMaxErrorLines,
		},
		Workers: WorkersConfig{
			Audit:     DefaultAuditWorkers,
			Analysis:  DefaultAnalysisWorkers,
			Synthesis: DefaultSynthesisWorkers,
		},
		Output: OutputConfig{
			Path: DefaultOutputPath,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Inference.URL == "" {
		return fmt.Errorf("inference.url is required")
	}
	if cfg.Inference.Model == "" {
		return fmt.Errorf("inference.model is required")
	}
	if cfg.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	if cfg.Sources.DAGDir == "" && cfg.Sources.EventsPath == "" &&
		cfg.Sources.ErrorsPath == "" && cfg.Sources.MetricsEndpoint == "" {
		return fmt.Errorf("sources: at least one input must be configured")
	}
	if cfg.Sources.MaxErrorLines <= 0 {
		return fmt.Errorf("sources.max_error_lines must be positive")
	}
	if cfg.Sources.Window <= 0 {
		return fmt.Errorf("sources.window must be positive")
	}
	if cfg.Workers.Audit <= 0 || cfg.Workers.Analysis <= 0 || cfg.Workers.Synthesis <= 0 {
		return fmt.Errorf("workers: pool sizes must be positive")
	}
	if cfg.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	for i, rule := range cfg.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if rule.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, rule.Name)
		}
		switch rule.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, rule.Name, rule.Severity)
		}
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}
