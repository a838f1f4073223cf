package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/polyview/config"
)

func TestNewProvidersHonoursConfiguredKeys(t *testing.T) {
	cfg := config.SourcesConfig{}
	if got := NewProviders(cfg); len(got) != 0 {
		t.Fatalf("expected no providers without keys, got %d", len(got))
	}

	cfg.NewsAPI.APIKey = "k1"
	cfg.WebSearch.SerperAPIKey = "k2"
	providers := NewProviders(cfg)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	names := map[string]bool{}
	for _, p := range providers {
		names[p.Name()] = true
	}
	if !names["newsapi"] || !names["serper"] {
		t.Fatalf("unexpected provider set: %v", names)
	}
}

func TestNewsAPISearch(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		if q := r.URL.Query().Get("q"); q != "test topic" {
			t.Errorf("query = %q", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"articles": [
			{"title": "First", "url": "https://one.example", "content": "full text one"},
			{"title": "Second", "url": "https://two.example", "description": "snippet two"}
		]}`))
	}))
	defer srv.Close()

	client := &NewsAPIClient{
		cfg:  config.NewsAPIConfig{APIKey: "secret", Endpoint: srv.URL},
		http: NewHTTPClient(5*time.Second, 0, time.Millisecond),
	}
	results, err := client.Search(context.Background(), "test topic")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "full text one" {
		t.Fatalf("content should prefer the full text, got %q", results[0].Content)
	}
	if results[1].Content != "snippet two" {
		t.Fatalf("content should fall back to the description, got %q", results[1].Content)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("rank order must decay the score: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestRankScore(t *testing.T) {
	if got := rankScore(0.8, 0); got != 0.8 {
		t.Fatalf("rank 0: %v", got)
	}
	if got := rankScore(0.8, 5); got != 0.7 {
		t.Fatalf("rank 5: %v", got)
	}
	if got := rankScore(0.6, 100); got != 0.1 {
		t.Fatalf("deep ranks must floor at 0.1, got %v", got)
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, 2, time.Millisecond)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.DoJSON(context.Background(), "GET", srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if !out.OK {
		t.Fatalf("response not decoded")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestHTTPClientExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, 1, time.Millisecond)
	if err := client.DoJSON(context.Background(), "GET", srv.URL, nil, nil, nil); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}
