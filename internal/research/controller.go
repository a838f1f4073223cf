package research

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/polyview/internal/search"
	"github.com/mohammad-safakhou/polyview/internal/stream"
	"github.com/mohammad-safakhou/polyview/internal/telemetry"
)

// Phase is the controller's state machine position.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseSearching  Phase = "searching"
	PhaseClustering Phase = "clustering"
	PhaseDone       Phase = "done"
)

// Params are the research loop thresholds. They are configuration, not
// business logic; see config.ResearchConfig for the defaults.
type Params struct {
	MaxIterations      int
	MinArticles        int
	MinPerspectives    int
	RelevanceThreshold float64
}

// Controller drives the research loop: each iteration it decides whether to
// gather more articles or stop, runs search → extraction → clustering →
// synthesis, and finally the summarizer. It owns no cross-run state; every
// Run gets a fresh State and article store.
type Controller struct {
	params     Params
	providers  []search.Provider
	hydrator   *search.Hydrator
	queries    QueryPlanner
	extractor  *ExtractionAdapter
	engine     *Engine
	synthesis  *SynthesisEngine
	summarizer Summarizer
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewController wires the pipeline stages together. hydrator may be nil to
// disable page hydration; telemetry may be nil in tests.
func NewController(params Params, providers []search.Provider, hydrator *search.Hydrator, queries QueryPlanner, extractor *ExtractionAdapter, engine *Engine, synthesis *SynthesisEngine, summarizer Summarizer, tele *telemetry.Telemetry, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Controller{
		params:     params,
		providers:  providers,
		hydrator:   hydrator,
		queries:    queries,
		extractor:  extractor,
		engine:     engine,
		synthesis:  synthesis,
		summarizer: summarizer,
		telemetry:  tele,
		logger:     logger,
	}
}

// Run executes a full research run for topic, emitting progress to sink.
// Exactly one end_of_stream event is emitted, last, on every path. The
// returned State is the final run state; err is non-nil when the run failed
// before producing a result.
func (c *Controller) Run(ctx context.Context, topic string, sink stream.Sink) (*State, error) {
	defer sink.Emit(stream.EndOfStream())

	state, err := c.run(ctx, topic, sink)
	if err != nil {
		sink.Emit(stream.Error(fmt.Sprintf("analysis failed: %v", err)))
		return state, err
	}
	sink.Emit(stream.Final(Report{
		Topic:        state.Topic,
		Perspectives: state.FinalPerspectives,
		Summary:      state.Summary,
	}))
	return state, nil
}

func (c *Controller) run(ctx context.Context, topic string, sink stream.Sink) (*State, error) {
	if topic == "" {
		return nil, fmt.Errorf("no topic set")
	}
	if c.telemetry != nil {
		c.telemetry.RunStarted()
	}
	started := time.Now()
	state := &State{Topic: topic, Phase: PhaseInit}
	store := NewArticleStore()

	sink.Emit(stream.Status("init", fmt.Sprintf("Starting research for %q", topic)))
	c.logger.Printf("initializing with topic %q", topic)

	for {
		// The iteration counter is incremented on every entry to the
		// decision point, before the decision is evaluated.
		state.Iteration++
		if c.telemetry != nil {
			c.telemetry.IterationStarted()
		}

		if done, reason := c.decide(state); done {
			c.logger.Printf("decision: %s", reason)
			state.Phase = PhaseDone
			break
		}
		c.logger.Printf("decision: more data or perspectives needed, continuing research (iteration %d)", state.Iteration)
		sink.Emit(stream.Status("iteration", fmt.Sprintf("Research cycle %d", state.Iteration)))

		if err := ctx.Err(); err != nil {
			return state, err
		}
		state.Phase = PhaseSearching
		newArticles, err := c.searchStage(ctx, state, store, sink)
		if err != nil {
			return state, err
		}

		if err := ctx.Err(); err != nil {
			return state, err
		}
		newPerspectives := c.extractStage(ctx, state, newArticles, sink)

		if err := ctx.Err(); err != nil {
			return state, err
		}
		state.Phase = PhaseClustering
		if err := c.clusterStage(ctx, state, newPerspectives, sink); err != nil {
			return state, err
		}

		if err := ctx.Err(); err != nil {
			return state, err
		}
		c.synthesisStage(ctx, state, sink)
	}

	if err := ctx.Err(); err != nil {
		return state, err
	}
	if err := c.summaryStage(ctx, state, sink); err != nil {
		return state, err
	}

	if c.telemetry != nil {
		c.telemetry.RecordRunEvent(telemetry.RunEvent{
			Topic:      state.Topic,
			Success:    true,
			Duration:   time.Since(started),
			Iterations: state.Iteration,
		})
	}
	return state, nil
}

// decide evaluates the stop conditions in precedence order: the hard
// iteration cap first, then data sufficiency (which never stops the very
// first iteration).
func (c *Controller) decide(state *State) (bool, string) {
	c.logger.Printf("decision point: iteration %d, articles %d (need %d), perspectives %d (need %d)",
		state.Iteration, len(state.RawArticles), c.params.MinArticles,
		len(state.FinalPerspectives), c.params.MinPerspectives)

	if state.Iteration > c.params.MaxIterations {
		return true, "max iterations reached"
	}
	if state.Iteration > 1 &&
		len(state.RawArticles) >= c.params.MinArticles &&
		len(state.FinalPerspectives) >= c.params.MinPerspectives {
		return true, "sufficient articles and perspectives found"
	}
	return false, ""
}

// searchStage plans queries, fans out to every provider, and admits new
// articles through the relevance threshold and URL dedup gate.
func (c *Controller) searchStage(ctx context.Context, state *State, store *ArticleStore, sink stream.Sink) ([]RawArticle, error) {
	stageStart := time.Now()
	sink.Emit(stream.Status("search", "Searching for articles"))

	queries, err := c.queries.PlanQueries(ctx, state.Topic, state.Iteration)
	if err != nil || len(queries) == 0 {
		// The reference falls back to deterministic default queries rather
		// than failing the run.
		c.logger.Printf("query planning failed (%v), using default queries", err)
		queries = DefaultQueries(state.Topic)
	}
	c.logger.Printf("iteration %d queries: %q", state.Iteration, queries)

	var results []search.Result
	for _, query := range queries {
		for _, provider := range c.providers {
			providerStart := time.Now()
			found, err := provider.Search(ctx, query)
			if c.telemetry != nil {
				c.telemetry.RecordSourceEvent(telemetry.SourceEvent{
					Provider: provider.Name(),
					Success:  err == nil,
					Duration: time.Since(providerStart),
					Results:  len(found),
				})
			}
			if err != nil {
				// A single provider failing for a single query is routine;
				// the remaining providers still contribute.
				c.logger.Printf("provider %s failed for query %q: %v", provider.Name(), query, err)
				continue
			}
			results = append(results, found...)
		}
	}

	if c.hydrator != nil {
		results = c.hydrator.Hydrate(ctx, results)
	}

	newArticles := store.Add(results, c.params.RelevanceThreshold)
	state.RawArticles = store.All()

	c.logger.Printf("search found %d results, %d new articles (total %d)", len(results), len(newArticles), store.Len())
	sink.Emit(stream.Status("search", fmt.Sprintf("Articles found: %d", store.Len())))
	if c.telemetry != nil {
		c.telemetry.RecordStage("search", time.Since(stageStart))
	}
	return newArticles, nil
}

// extractStage extracts perspectives from this iteration's new articles only.
func (c *Controller) extractStage(ctx context.Context, state *State, newArticles []RawArticle, sink stream.Sink) []ArticlePerspectives {
	stageStart := time.Now()
	sink.Emit(stream.Status("extraction", fmt.Sprintf("Extracting perspectives from %d new articles", len(newArticles))))

	newPerspectives := c.extractor.ExtractAll(ctx, state.Topic, newArticles)
	state.ArticlePerspectives = append(state.ArticlePerspectives, newPerspectives...)

	if c.telemetry != nil {
		c.telemetry.RecordStage("extraction", time.Since(stageStart))
	}
	return newPerspectives
}

// clusterStage consolidates this iteration's perspectives against the
// existing final perspectives.
func (c *Controller) clusterStage(ctx context.Context, state *State, newPerspectives []ArticlePerspectives, sink stream.Sink) error {
	stageStart := time.Now()
	sink.Emit(stream.Status("clustering", "Clustering perspectives"))

	consolidated, err := c.engine.Cluster(ctx, newPerspectives, state.FinalPerspectives, state.Iteration)
	if err != nil {
		return fmt.Errorf("clustering: %w", err)
	}
	state.ConsolidatedPerspectives = consolidated

	sink.Emit(stream.Partial("clustering", consolidated))
	if c.telemetry != nil {
		c.telemetry.RecordStage("clustering", time.Since(stageStart))
	}
	return nil
}

// synthesisStage replaces the final perspective set with this round's batch
// result. An empty result (batch failure or nothing to synthesize) leaves
// the run short of its perspective threshold, so the loop searches again.
func (c *Controller) synthesisStage(ctx context.Context, state *State, sink stream.Sink) {
	stageStart := time.Now()
	sink.Emit(stream.Status("synthesis", "Synthesizing perspectives"))

	state.FinalPerspectives = c.synthesis.Synthesize(ctx, state.ConsolidatedPerspectives)

	sink.Emit(stream.Status("synthesis", fmt.Sprintf("Perspectives identified: %d", len(state.FinalPerspectives))))
	if len(state.FinalPerspectives) > 0 {
		sink.Emit(stream.Partial("synthesis", state.FinalPerspectives))
	}
	if c.telemetry != nil {
		c.telemetry.RecordStage("synthesis", time.Since(stageStart))
	}
}

// summaryStage produces the final balanced summary, streaming tokens as they
// arrive.
func (c *Controller) summaryStage(ctx context.Context, state *State, sink stream.Sink) error {
	stageStart := time.Now()
	sink.Emit(stream.Status("summary", "Writing balanced summary"))

	summary, err := c.summarizer.Summarize(ctx, state.FinalPerspectives, func(token string) {
		sink.Emit(stream.SummaryToken(token))
	})
	if err != nil {
		return fmt.Errorf("summarization: %w", err)
	}
	state.Summary = summary

	if c.telemetry != nil {
		c.telemetry.RecordStage("summary", time.Since(stageStart))
	}
	return nil
}

// DefaultQueries is the deterministic fallback when query planning fails.
func DefaultQueries(topic string) []string {
	return []string{
		topic + " overview",
		topic + " key facts",
		topic + " all perspectives",
	}
}
