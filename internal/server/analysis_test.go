package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/polyview/config"
	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/search"
	"github.com/mohammad-safakhou/polyview/internal/stream"
)

type stubSearch struct{}

func (stubSearch) Name() string { return "stub" }

func (stubSearch) Search(_ context.Context, _ string) ([]search.Result, error) {
	var out []search.Result
	for i := 0; i < 3; i++ {
		out = append(out, search.Result{
			URL:     fmt.Sprintf("https://article-%d.example", i),
			Content: fmt.Sprintf("content %d", i),
			Score:   0.8,
		})
	}
	return out, nil
}

type stubCollaborator struct {
	refineErr error
	refined   string
}

func (s *stubCollaborator) ExtractPerspectives(_ context.Context, _, text string) ([]research.ExtractedPerspective, error) {
	return []research.ExtractedPerspective{{
		PerspectiveSummary: "view of " + text,
		KeyArguments:       []string{"argument from " + text},
	}}, nil
}

func (s *stubCollaborator) ClusterPerspectives(_ context.Context, summaries []research.IndexedSummary, _ []research.FinalPerspective) ([]research.ClusterAssignment, error) {
	indices := make([]int, len(summaries))
	for i := range summaries {
		indices[i] = i
	}
	half := len(indices) / 2
	return []research.ClusterAssignment{
		{ClusterName: "Pro", PerspectiveIndices: indices[:half]},
		{ClusterName: "Con", PerspectiveIndices: indices[half:]},
	}, nil
}

func (s *stubCollaborator) Narrate(_ context.Context, name string, _ []string) (string, error) {
	return "synthesis of " + name, nil
}

func (s *stubCollaborator) Synthesize(_ context.Context, consolidated []research.ConsolidatedPerspective) ([]research.FinalPerspective, error) {
	out := make([]research.FinalPerspective, len(consolidated))
	for i, c := range consolidated {
		out[i] = research.FinalPerspective{PerspectiveName: c.PerspectiveName, Narrative: c.PreliminarySynthesis}
	}
	return out, nil
}

func (s *stubCollaborator) Summarize(_ context.Context, _ []research.FinalPerspective, onToken func(string)) (string, error) {
	if onToken != nil {
		onToken("balanced ")
		onToken("summary")
	}
	return "balanced summary", nil
}

func (s *stubCollaborator) PlanQueries(_ context.Context, topic string, _ int) ([]string, error) {
	return []string{topic + " news"}, nil
}

func (s *stubCollaborator) RefineTopic(_ context.Context, message string) (string, error) {
	if s.refineErr != nil {
		return "", s.refineErr
	}
	if s.refined != "" {
		return s.refined, nil
	}
	return message, nil
}

func newTestHandler(t *testing.T, collab *stubCollaborator) (*AnalysisHandler, *echo.Echo) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	ctrl := research.NewController(
		research.Params{MaxIterations: 2, MinArticles: 3, MinPerspectives: 2, RelevanceThreshold: 0.3},
		[]search.Provider{stubSearch{}},
		nil,
		collab,
		research.NewExtractionAdapter(collab, 2, quiet),
		research.NewEngine(collab, collab, quiet),
		research.NewSynthesisEngine(collab, quiet),
		collab,
		nil,
		quiet,
	)
	cfg := &config.Config{
		General: config.GeneralConfig{MaxRunTime: 30 * time.Second},
		Server:  config.ServerConfig{StreamEnabled: true, QueueCapacity: 64, SessionTTL: time.Minute},
	}
	sessions := NewSessionManager(cfg.Server.QueueCapacity, cfg.Server.SessionTTL)
	handler := NewAnalysisHandler(cfg, sessions, ctrl, collab, nil, quiet)

	e := echo.New()
	e.HideBanner = true
	handler.Register(e.Group("/api/v1"))
	return handler, e
}

func startAnalysis(t *testing.T, e *echo.Echo, topic string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(AnalysisRequest{Topic: topic})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		return "", rec.Code
	}
	var resp AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	return resp.SessionID, rec.Code
}

func waitForStatus(t *testing.T, e *echo.Echo, sessionID, want string) SessionView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/"+sessionID, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("snapshot status %d", rec.Code)
		}
		var view SessionView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("bad snapshot body: %v", err)
		}
		if view.Status == want {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %q", sessionID, want)
	return SessionView{}
}

func TestAnalyzeRunsToCompletion(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{})

	sessionID, code := startAnalysis(t, e, "test topic")
	if code != http.StatusAccepted {
		t.Fatalf("status %d", code)
	}
	view := waitForStatus(t, e, sessionID, StatusSucceeded)
	if view.Result == nil {
		t.Fatalf("succeeded session has no result")
	}
	if len(view.Result.Perspectives) != 2 {
		t.Fatalf("expected 2 perspectives, got %d", len(view.Result.Perspectives))
	}
	if view.Result.Summary != "balanced summary" {
		t.Fatalf("summary = %q", view.Result.Summary)
	}
}

func TestAnalyzeRejectsEmptyTopic(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{})
	if _, code := startAnalysis(t, e, "   "); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestAnalyzeClarificationNeeded(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{refineErr: research.ErrNeedsClarification})
	if _, code := startAnalysis(t, e, "hi"); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
}

func TestAnalyzeRefinementFailureFallsBackToRawTopic(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{refineErr: errors.New("refiner down")})
	sessionID, code := startAnalysis(t, e, "raw topic")
	if code != http.StatusAccepted {
		t.Fatalf("refinement failure must not block the run: %d", code)
	}
	view := waitForStatus(t, e, sessionID, StatusSucceeded)
	if view.Topic != "raw topic" {
		t.Fatalf("topic = %q", view.Topic)
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/nope", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamDeliversEndOfStreamLast(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{})
	srv := httptest.NewServer(e)
	defer srv.Close()

	sessionID, code := startAnalysis(t, e, "test topic")
	if code != http.StatusAccepted {
		t.Fatalf("status %d", code)
	}

	resp, err := http.Get(srv.URL + "/api/v1/analyze/" + sessionID + "/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(types) == 0 {
		t.Fatalf("no events received")
	}
	if types[len(types)-1] != string(stream.TypeEndOfStream) {
		t.Fatalf("last event = %q", types[len(types)-1])
	}
	eos, finals := 0, 0
	for _, ty := range types {
		switch ty {
		case string(stream.TypeEndOfStream):
			eos++
		case string(stream.TypeFinalResult):
			finals++
		}
	}
	if eos != 1 {
		t.Fatalf("end_of_stream delivered %d times", eos)
	}
	if finals != 1 {
		t.Fatalf("final_result delivered %d times", finals)
	}
}

func TestCancelSession(t *testing.T) {
	_, e := newTestHandler(t, &stubCollaborator{})
	sessionID, _ := startAnalysis(t, e, "test topic")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/analyze/"+sessionID, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status %d", rec.Code)
	}
	var view SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("bad cancel body: %v", err)
	}
	if view.Status != StatusCancelled && view.Status != StatusSucceeded {
		t.Fatalf("unexpected status %q", view.Status)
	}
}
