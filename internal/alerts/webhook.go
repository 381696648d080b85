package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// deliver sends a to every configured target. A failed delivery is logged
// and never affects the evaluation pass.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		body, err := payloadFor(wh.Type, a)
		if err != nil {
			slog.Warn("alerts: webhook skipped", "type", wh.Type, "err", err)
			continue
		}
		if err := e.post(url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"entity", a.EntityID,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName)
	}
}

// payloadFor renders the alert into the JSON shape the target type expects.
func payloadFor(kind string, a *Alert) ([]byte, error) {
	switch kind {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*[%s]* %s", strings.ToUpper(a.Severity), a.Message),
		})
	case "teams":
		return json.Marshal(map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": themeColor(a.Severity),
			"summary":    a.RuleName,
			"title":      "Pipeline Alert: " + a.RuleName,
			"text":       a.Message,
		})
	case "http":
		return json.Marshal(map[string]any{"alert": a})
	}
	return nil, fmt.Errorf("unknown webhook type %q", kind)
}

// themeColor maps a severity to the MessageCard accent color.
func themeColor(severity string) string {
	switch severity {
	case "critical":
		return "E81123"
	case "warning":
		return "FFB900"
	default:
		return "0078D7"
	}
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
