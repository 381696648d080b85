package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagsentry/dagsentry/internal/report"
	"github.com/dagsentry/dagsentry/internal/synthesis"
)

func sampleDoc() *report.Document {
	return report.Build(map[string]*synthesis.Record{
		"orders": {EntityID: "orders", HealthScore: 80, Priority: synthesis.PriorityLow},
	}, 0)
}

func TestPublish_Delivers(t *testing.T) {
	var got report.Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	doc := sampleDoc()
	if err := New(srv.URL).Publish(context.Background(), doc); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got.RunID != doc.RunID {
		t.Errorf("delivered RunID = %q, want %q", got.RunID, doc.RunID)
	}
}

func TestPublish_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := New(srv.URL).Publish(ctx, sampleDoc()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", n)
	}
}

func TestPublish_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if err := New(srv.URL).Publish(context.Background(), sampleDoc()); err == nil {
		t.Fatal("expected error on 422 response")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", n)
	}
}

func TestPublish_DisabledIsNoOp(t *testing.T) {
	p := New("")
	if p.Enabled() {
		t.Error("Enabled() = true for empty URL")
	}
	if err := p.Publish(context.Background(), sampleDoc()); err != nil {
		t.Errorf("Publish on disabled publisher: %v", err)
	}
}
