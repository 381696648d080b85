package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dagsentry/dagsentry/internal/config"
)

// Reason classifies why an inference call failed.
type Reason string

const (
	ReasonUnavailable Reason = "UNAVAILABLE"
	ReasonTimeout     Reason = "TIMEOUT"
	ReasonMalformed   Reason = "MALFORMED_RESPONSE"
)

// Error is the typed failure returned by every client operation. Callers
// never see an unstructured transport or parse error.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or "" if err is not an
// inference error.
func ReasonOf(err error) Reason {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// Client talks to an Ollama-compatible generation endpoint. It is stateless
// per call and safe for concurrent workers; the only shared state is the
// connection configuration and the underlying http.Client.
type Client struct {
	cfg config.InferenceConfig
	hc  *http.Client
}

// New builds a Client from the immutable inference configuration. The HTTP
// client is constructed once and reused across calls.
func New(cfg config.InferenceConfig) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// tagsResponse mirrors the Ollama /api/tags payload.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Available reports whether the endpoint is reachable and the configured
// model is present. It is the pre-flight check callers use to short-circuit
// a whole batch instead of issuing doomed per-item calls.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		slog.Warn("inference: endpoint unreachable", "url", c.cfg.URL, "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.HasPrefix(m.Name, c.cfg.Model) {
			return true
		}
	}
	slog.Warn("inference: model not present on endpoint", "model", c.cfg.Model)
	return false
}

// generateRequest is the Ollama /api/generate request body. format:"json"
// nudges the model toward structured output; extraction still assumes the
// worst.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options"`
}

// generateResponse is the subset of the Ollama reply the client uses. With
// stream=false the model text arrives wrapped in the "response" field.
type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends one generation request and returns the raw model text.
// Failures are always a typed *Error: TIMEOUT when the call deadline was
// exceeded, UNAVAILABLE for any other transport problem, MALFORMED_RESPONSE
// when the endpoint's own envelope cannot be decoded.
//
// The remote call is never retried here — calls are assumed expensive, and
// callers decide whether an item is worth a second attempt.
func (c *Client) Generate(ctx context.Context, prompt, system string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.cfg.Model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": c.cfg.Temperature},
	})
	if err != nil {
		return "", &Error{Reason: ReasonMalformed, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &Error{Reason: ReasonTimeout, Err: err}
		}
		return "", &Error{Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("read body: %w", err)}
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", &Error{Reason: ReasonMalformed, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if gr.Response == "" {
		return "", &Error{Reason: ReasonMalformed, Err: errors.New("empty model response")}
	}
	return gr.Response, nil
}

// Infer runs Generate and extracts the JSON object the model text is expected
// to contain, unmarshalling it into out. out defines the schema hint: unknown
// fields are ignored, absent ones stay at their zero values for the caller to
// validate.
func (c *Client) Infer(ctx context.Context, prompt, system string, out any) error {
	raw, err := c.Generate(ctx, prompt, system)
	if err != nil {
		return err
	}
	if err := Decode(raw, out); err != nil {
		return &Error{Reason: ReasonMalformed, Err: err}
	}
	return nil
}

// isTimeout distinguishes deadline expiry from other transport failures.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}
