package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/polyview/config"
)

// Telemetry tracks pipeline metrics and LLM cost across research runs.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	iterations    prometheus.Counter
	stageDuration *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	sourceResults *prometheus.CounterVec
}

// CostTracker accumulates LLM spend per model and in total.
type CostTracker struct {
	mu          sync.RWMutex
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent describes one completed research run.
type RunEvent struct {
	SessionID  string
	Topic      string
	Success    bool
	Duration   time.Duration
	Iterations int
	Cost       float64
	TokensUsed int64
}

// LLMEvent describes one collaborator call.
type LLMEvent struct {
	Task         string // extraction, clustering, synthesis, narration, summary, queries
	Model        string
	Success      bool
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// SourceEvent describes one search provider call.
type SourceEvent struct {
	Provider string
	Success  bool
	Duration time.Duration
	Results  int
}

// NewTelemetry creates a telemetry instance and registers its collectors.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config:      cfg,
		logger:      log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{ModelCosts: make(map[string]float64)},

		runsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "polyview_runs_started_total",
			Help: "Number of research runs started.",
		}),
		runsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "polyview_runs_completed_total",
			Help: "Number of research runs that finished successfully.",
		}),
		runsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "polyview_runs_failed_total",
			Help: "Number of research runs that ended with an error.",
		}),
		iterations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "polyview_research_iterations_total",
			Help: "Number of research loop iterations executed.",
		}),
		stageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polyview_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		llmRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "polyview_llm_requests_total",
			Help: "LLM collaborator calls by task and outcome.",
		}, []string{"task", "model", "outcome"}),
		llmTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "polyview_llm_tokens_total",
			Help: "LLM tokens used by model and direction.",
		}, []string{"model", "direction"}),
		sourceResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "polyview_source_results_total",
			Help: "Search results returned by provider.",
		}, []string{"provider"}),
	}
	return t
}

// RunStarted records the beginning of a research run.
func (t *Telemetry) RunStarted() {
	if !t.config.Enabled {
		return
	}
	t.runsStarted.Inc()
}

// IterationStarted records one pass of the research loop.
func (t *Telemetry) IterationStarted() {
	if !t.config.Enabled {
		return
	}
	t.iterations.Inc()
}

// RecordStage records the duration of a single pipeline stage.
func (t *Telemetry) RecordStage(stage string, d time.Duration) {
	if !t.config.Enabled {
		return
	}
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRunEvent records a completed research run.
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}
	if event.Success {
		t.runsCompleted.Inc()
	} else {
		t.runsFailed.Inc()
	}
	if t.config.CostTracking {
		t.costTracker.mu.Lock()
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.TokensUsed
		t.costTracker.mu.Unlock()
	}
	t.logger.Printf("Run Event: Session=%s, Success=%t, Duration=%v, Iterations=%d, Cost=$%.4f, Tokens=%d",
		event.SessionID, event.Success, event.Duration, event.Iterations, event.Cost, event.TokensUsed)
}

// RecordLLMEvent records a single collaborator call.
func (t *Telemetry) RecordLLMEvent(event LLMEvent) {
	if !t.config.Enabled {
		return
	}
	outcome := "success"
	if !event.Success {
		outcome = "error"
	}
	t.llmRequests.WithLabelValues(event.Task, event.Model, outcome).Inc()
	t.llmTokens.WithLabelValues(event.Model, "input").Add(float64(event.InputTokens))
	t.llmTokens.WithLabelValues(event.Model, "output").Add(float64(event.OutputTokens))
	if t.config.CostTracking {
		t.costTracker.mu.Lock()
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.InputTokens + event.OutputTokens
		t.costTracker.mu.Unlock()
	}
}

// RecordSourceEvent records a search provider call.
func (t *Telemetry) RecordSourceEvent(event SourceEvent) {
	if !t.config.Enabled {
		return
	}
	t.sourceResults.WithLabelValues(event.Provider).Add(float64(event.Results))
	if !event.Success {
		t.logger.Printf("Source Event: Provider=%s failed after %v", event.Provider, event.Duration)
	}
}

// TotalCost returns the accumulated LLM cost for this process.
func (t *Telemetry) TotalCost() float64 {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalCost
}

// TotalTokens returns the accumulated token usage for this process.
func (t *Telemetry) TotalTokens() int64 {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalTokens
}
