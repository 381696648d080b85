package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dagsentry/dagsentry/internal/config"
	"github.com/dagsentry/dagsentry/internal/synthesis"
)

const defaultCooldown = 15 * time.Minute

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID       string    `json:"id"`
	RuleName string    `json:"rule_name"`
	EntityID string    `json:"entity_id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Value    float64   `json:"value"`
	FiredAt  time.Time `json:"fired_at"`
}

// Engine evaluates alert rules against synthesized records once per analysis
// pass. Cooldown state persists across passes so watch mode does not re-fire
// the same alert every cycle.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	lastFire map[string]time.Time // key: "ruleName:entityID"
	client   *http.Client
	now      func() time.Time
}

// New creates an Engine from the alert configuration.
// An Engine with empty rules is valid — Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Evaluate tests all configured rules against every record and delivers
// webhook notifications for the alerts that fire. Fired alerts are returned
// sorted by entity then rule so output order is stable.
func (e *Engine) Evaluate(records map[string]*synthesis.Record) []Alert {
	if len(e.rules) == 0 || len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fired []Alert
	for _, id := range ids {
		rec := records[id]
		for _, rule := range e.rules {
			fires, value := evalCondition(rule.Condition, rec)
			if !fires {
				continue
			}
			a, ok := e.fire(rule, id, value)
			if !ok {
				continue
			}
			slog.Warn("alert fired",
				"rule", rule.Name,
				"entity", id,
				"value", value,
				"severity", a.Severity,
			)
			e.deliver(&a)
			fired = append(fired, a)
		}
	}
	return fired
}

// fire records the alert unless the rule/entity pair is still in cooldown.
func (e *Engine) fire(rule config.AlertRule, entityID string, value float64) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := rule.Name + ":" + entityID
	now := e.now()
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if now.Sub(e.lastFire[key]) <= cooldown {
		return Alert{}, false
	}
	e.lastFire[key] = now

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	return Alert{
		ID:       fmt.Sprintf("%s:%s:%d", rule.Name, entityID, now.UnixNano()),
		RuleName: rule.Name,
		EntityID: entityID,
		Severity: sev,
		Value:    value,
		Message: fmt.Sprintf("[%s] %s fired on %s — %s = %.2f",
			sev, rule.Name, entityID, rule.Condition, value),
		FiredAt: now,
	}, true
}
