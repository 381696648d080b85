package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dagsentry/dagsentry/internal/config"
)

// newTestClient points a Client at the given handler with a short timeout.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.InferenceConfig{
		URL:     srv.URL,
		Model:   "llama3.2",
		Timeout: 2 * time.Second,
	}), srv
}

// generateHandler answers /api/generate with the given model text wrapped in
// the Ollama envelope, and /api/tags with the given model list.
func generateHandler(modelText string, models ...string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": modelText})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		var list []m
		for _, name := range models {
			list = append(list, m{Name: name})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": list})
	})
	return mux
}

func TestGenerate_PassesRequestFields(t *testing.T) {
	var got generateRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "{}"})
	}))

	if _, err := c.Generate(context.Background(), "the prompt", "the system"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Model != "llama3.2" || got.Prompt != "the prompt" || got.System != "the system" {
		t.Errorf("request fields: %+v", got)
	}
	if got.Stream {
		t.Error("Stream must be false")
	}
	if got.Format != "json" {
		t.Errorf("Format = %q, want json", got.Format)
	}
}

func TestInfer_JSONEmbeddedInProse(t *testing.T) {
	c, _ := newTestClient(t, generateHandler(
		`Of course. {"verdict":"fine","score":77} Hope this helps!`))

	var out struct {
		Verdict string `json:"verdict"`
		Score   int    `json:"score"`
	}
	if err := c.Infer(context.Background(), "p", "s", &out); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if out.Verdict != "fine" || out.Score != 77 {
		t.Errorf("got %+v", out)
	}
}

func TestInfer_PureProseIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, generateHandler("I am unable to answer in JSON."))

	var out struct{}
	err := c.Infer(context.Background(), "p", "s", &out)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := ReasonOf(err); got != ReasonMalformed {
		t.Errorf("reason = %q, want %q", got, ReasonMalformed)
	}
}

func TestGenerate_EmptyResponseIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, generateHandler(""))

	_, err := c.Generate(context.Background(), "p", "s")
	if got := ReasonOf(err); got != ReasonMalformed {
		t.Errorf("reason = %q, want %q", got, ReasonMalformed)
	}
}

func TestGenerate_ServerErrorIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))

	_, err := c.Generate(context.Background(), "p", "s")
	if got := ReasonOf(err); got != ReasonUnavailable {
		t.Errorf("reason = %q, want %q", got, ReasonUnavailable)
	}
}

func TestGenerate_UnreachableIsUnavailable(t *testing.T) {
	c := New(config.InferenceConfig{
		URL:     "http://127.0.0.1:1", // nothing listens here
		Model:   "llama3.2",
		Timeout: 2 * time.Second,
	})
	_, err := c.Generate(context.Background(), "p", "s")
	if got := ReasonOf(err); got != ReasonUnavailable {
		t.Errorf("reason = %q, want %q", got, ReasonUnavailable)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "p", "s")
	if got := ReasonOf(err); got != ReasonTimeout {
		t.Errorf("reason = %q, want %q", got, ReasonTimeout)
	}
}

func TestAvailable(t *testing.T) {
	tests := []struct {
		name   string
		models []string
		want   bool
	}{
		{"model present", []string{"llama3.2:latest"}, true},
		{"prefix match", []string{"llama3.2-instruct-q4"}, true},
		{"other models only", []string{"mistral:7b"}, false},
		{"no models", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, generateHandler("{}", tc.models...))
			if got := c.Available(context.Background()); got != tc.want {
				t.Errorf("Available() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAvailable_EndpointDown(t *testing.T) {
	c := New(config.InferenceConfig{
		URL:     "http://127.0.0.1:1",
		Model:   "llama3.2",
		Timeout: time.Second,
	})
	if c.Available(context.Background()) {
		t.Error("Available() = true for unreachable endpoint")
	}
}

func TestInfer_ConcurrentCalls(t *testing.T) {
	c, _ := newTestClient(t, generateHandler(`{"score": 1}`))

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			var out struct {
				Score int `json:"score"`
			}
			err := c.Infer(context.Background(), "p", "s", &out)
			if err == nil && out.Score != 1 {
				err = fmt.Errorf("score = %d", out.Score)
			}
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Infer: %v", err)
		}
	}
}
