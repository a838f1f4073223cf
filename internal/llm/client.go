package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/polyview/config"
	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/telemetry"
)

// Client implements every pipeline collaborator on top of a Provider:
// perspective extraction, the grouping oracle, per-cluster narration, batched
// synthesis, the final summarizer, query planning and topic refinement.
// Structured responses are coerced at this boundary; the core never sees a
// loosely-shaped record.
type Client struct {
	provider  Provider
	routing   config.LLMRoutingConfig
	retry     *Retryer
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewClient builds the collaborator client from configuration.
func NewClient(cfg config.LLMConfig, tele *telemetry.Telemetry, logger *log.Logger) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &Client{
		provider:  provider,
		routing:   cfg.Routing,
		retry:     NewRetryer(cfg.Retry, logger),
		telemetry: tele,
		logger:    logger,
	}, nil
}

// NewClientWithProvider builds a client around an existing provider, used by
// tests to inject deterministic fakes.
func NewClientWithProvider(provider Provider, routing config.LLMRoutingConfig, retry config.LLMRetryConfig, tele *telemetry.Telemetry, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &Client{
		provider:  provider,
		routing:   routing,
		retry:     NewRetryer(retry, logger),
		telemetry: tele,
		logger:    logger,
	}
}

// model resolves a routed model name, falling back to the configured
// fallback model.
func (c *Client) model(name string) string {
	if name != "" {
		return name
	}
	return c.routing.Fallback
}

// generate runs one collaborator call with rate-limit retries and telemetry.
func (c *Client) generate(ctx context.Context, task, model, prompt string) (string, error) {
	var out string
	started := time.Now()
	err := c.retry.Do(ctx, func() error {
		text, in, outTokens, genErr := c.provider.GenerateWithTokens(ctx, prompt, model, nil)
		if genErr != nil {
			return genErr
		}
		out = text
		if c.telemetry != nil {
			c.telemetry.RecordLLMEvent(telemetry.LLMEvent{
				Task:         task,
				Model:        model,
				Success:      true,
				Duration:     time.Since(started),
				InputTokens:  in,
				OutputTokens: outTokens,
				Cost:         c.provider.CalculateCost(in, outTokens, model),
			})
		}
		return nil
	})
	if err != nil && c.telemetry != nil {
		c.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Task: task, Model: model, Success: false, Duration: time.Since(started),
		})
	}
	return out, err
}

const extractionPrompt = `You are an expert analyst skilled in identifying distinct viewpoints in a text.
Extract all clearly identifiable perspectives presented in the article about %s.
A perspective is any specific viewpoint, stance, or framing explicitly described or quoted in the article. Do not infer or invent perspectives; only use what is explicitly presented. Keep each perspective distinct, be neutral and concise.

Respond with JSON only, in this exact shape:
{"perspectives": [{"perspective_summary": "...", "key_arguments": ["..."], "contextual_narrative": "...", "source_article_summary": "...", "inferred_assumptions": ["..."], "evidence_provided": ["..."]}]}

Article text:
---
%s
---`

// ExtractPerspectives implements research.PerspectiveExtractor.
func (c *Client) ExtractPerspectives(ctx context.Context, topic, articleText string) ([]research.ExtractedPerspective, error) {
	prompt := fmt.Sprintf(extractionPrompt, topic, truncate(articleText, 24000))
	raw, err := c.generate(ctx, "extraction", c.model(c.routing.Extraction), prompt)
	if err != nil {
		return nil, err
	}

	var out struct {
		Perspectives json.RawMessage `json:"perspectives"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		c.logger.Printf("extraction response not parseable, treating as empty: %v", err)
		return nil, nil
	}
	// A "perspectives" field that is not list-shaped is treated as empty.
	if !isJSONList(out.Perspectives) {
		c.logger.Printf("extraction response has non-list perspectives, treating as empty")
		return nil, nil
	}
	var perspectives []research.ExtractedPerspective
	if err := json.Unmarshal(out.Perspectives, &perspectives); err != nil {
		c.logger.Printf("extraction perspectives malformed, treating as empty: %v", err)
		return nil, nil
	}
	return perspectives, nil
}

const clusteringGuidelines = `You are an advanced analytical AI specializing in synthesizing diverse viewpoints into coherent, distinct perspectives. Group the given perspective summaries into semantically similar clusters. Each cluster should represent a unique, well-defined core argument or viewpoint on the topic.

Guidelines:
1. Aim for clusters that collectively offer a comprehensive, balanced understanding of the topic.
2. Each cluster must be clearly distinguishable; avoid overly broad clusters and avoid scattering closely related perspectives.
3. Group perspectives sharing the same fundamental argument, even when worded differently.
4. Give each cluster a concise, descriptive, neutral name conveying its essence.
5. Assign the original indices of all perspectives belonging to each cluster.

Respond with JSON only, in this exact shape:
{"clusters": [{"cluster_name": "...", "perspective_indices": [0]}]}`

// ClusterPerspectives implements research.ClusterOracle.
func (c *Client) ClusterPerspectives(ctx context.Context, perspectives []research.IndexedSummary, existing []research.FinalPerspective) ([]research.ClusterAssignment, error) {
	indexed, err := json.Marshal(perspectives)
	if err != nil {
		return nil, fmt.Errorf("marshal perspectives: %w", err)
	}

	var b strings.Builder
	b.WriteString(clusteringGuidelines)
	b.WriteString("\n\n")
	if len(existing) > 0 {
		existingJSON, err := json.MarshalIndent(existing, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal existing perspectives: %w", err)
		}
		b.WriteString("You have already identified the following perspectives:\n```json\n")
		b.Write(existingJSON)
		b.WriteString("\n```\n\nCluster the following new perspectives. Assign them to one of the existing perspective clusters (reuse its exact name) or create new ones if they don't fit.\n\nNew perspectives to cluster:\n```json\n")
	} else {
		b.WriteString("Cluster the following perspectives:\n```json\n")
	}
	b.Write(indexed)
	b.WriteString("\n```")

	raw, err := c.generate(ctx, "clustering", c.model(c.routing.Clustering), b.String())
	if err != nil {
		return nil, err
	}

	var out struct {
		Clusters json.RawMessage `json:"clusters"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		c.logger.Printf("clustering response not parseable, treating as empty: %v", err)
		return nil, nil
	}
	if !isJSONList(out.Clusters) {
		c.logger.Printf("clustering response has non-list clusters, treating as empty")
		return nil, nil
	}
	var clusters []research.ClusterAssignment
	if err := json.Unmarshal(out.Clusters, &clusters); err != nil {
		c.logger.Printf("clustering clusters malformed, treating as empty: %v", err)
		return nil, nil
	}
	return clusters, nil
}

// Narrate implements research.Narrator.
func (c *Client) Narrate(ctx context.Context, clusterName string, narratives []string) (string, error) {
	prompt := fmt.Sprintf(
		"Create a brief, synthesized narrative (1-2 paragraphs) from the following collected narratives for the perspective: %q.\n\n---\n%s\n---",
		clusterName, strings.Join(narratives, "\n\n"))
	text, err := c.generate(ctx, "narration", c.model(c.routing.Narration), prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

const synthesisPrompt = `You are an expert synthesizer and analyst. Transform the aggregated perspectives below into a final, detailed analysis. For each perspective:
1. Review the preliminary_synthesis and aggregated_narratives and write a comprehensive, neutral final narrative.
2. Merge semantically similar or redundant aggregated_arguments into clear, concise core_arguments.
3. Identify the underlying common_assumptions.
4. Determine strengths (e.g. well-supported, logically consistent) and weaknesses (e.g. unstated assumptions, missing evidence) from the arguments and supporting_evidence.
Keep each perspective's name exactly as given and carry its supporting_evidence through.

Respond with JSON only, in this exact shape:
{"final_perspectives": [{"perspective_name": "...", "narrative": "...", "core_arguments": ["..."], "common_assumptions": ["..."], "strengths": ["..."], "weaknesses": ["..."], "supporting_evidence": ["..."]}]}

Aggregated perspectives:
%s`

// Synthesize implements research.SynthesisOracle.
func (c *Client) Synthesize(ctx context.Context, consolidated []research.ConsolidatedPerspective) ([]research.FinalPerspective, error) {
	payload, err := json.MarshalIndent(consolidated, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal consolidated perspectives: %w", err)
	}
	raw, err := c.generate(ctx, "synthesis", c.model(c.routing.Synthesis), fmt.Sprintf(synthesisPrompt, payload))
	if err != nil {
		return nil, err
	}

	var out struct {
		FinalPerspectives json.RawMessage `json:"final_perspectives"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("synthesis response not parseable: %w", err)
	}
	if !isJSONList(out.FinalPerspectives) {
		return nil, fmt.Errorf("synthesis response has non-list final_perspectives")
	}
	var finals []research.FinalPerspective
	if err := json.Unmarshal(out.FinalPerspectives, &finals); err != nil {
		return nil, fmt.Errorf("synthesis final_perspectives malformed: %w", err)
	}
	return finals, nil
}

const summaryPrompt = `You are a critical summarizer. Read the list of distinct perspectives below, each with its core arguments, strengths and weaknesses, and synthesize them into 2-4 short, clear paragraphs giving a holistic, fair-minded and critically informed overview of the issue.

Rules: represent each perspective neutrally and proportionately; do not treat all perspectives as equally valid by default — note flawed reasoning or weak evidence succinctly and without ridicule; highlight common ground, trade-offs and genuine disagreement; make remaining uncertainty explicit; avoid false equivalence; offer no recommendations, predictions or personal takes.

Perspectives:
` + "```json\n%s\n```"

// Summarize implements research.Summarizer. Tokens are delivered to onToken
// as they arrive when it is non-nil.
func (c *Client) Summarize(ctx context.Context, perspectives []research.FinalPerspective, onToken func(string)) (string, error) {
	payload, err := json.MarshalIndent(perspectives, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal perspectives: %w", err)
	}
	prompt := fmt.Sprintf(summaryPrompt, payload)
	model := c.model(c.routing.Summary)

	if onToken == nil {
		text, err := c.generate(ctx, "summary", model, prompt)
		return strings.TrimSpace(text), err
	}

	var full string
	started := time.Now()
	err = c.retry.Do(ctx, func() error {
		text, genErr := c.provider.GenerateStream(ctx, prompt, model, nil, onToken)
		if genErr != nil {
			return genErr
		}
		full = text
		return nil
	})
	if c.telemetry != nil {
		// The streaming API reports no usage; estimate tokens the usual way.
		in, out := int64(len(prompt)/4), int64(len(full)/4)
		c.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Task: "summary", Model: model, Success: err == nil,
			Duration: time.Since(started), InputTokens: in, OutputTokens: out,
			Cost: c.provider.CalculateCost(in, out, model),
		})
	}
	return strings.TrimSpace(full), err
}

// PlanQueries implements research.QueryPlanner.
func (c *Client) PlanQueries(ctx context.Context, topic string, iteration int) ([]string, error) {
	var prompt string
	if iteration <= 1 {
		prompt = fmt.Sprintf(`You are an expert research assistant specialized in formulating search queries. Based on the following topic, generate 3-5 diverse and effective web search queries covering different angles, perspectives, and potential controversies.
Don't wrap queries in quotation marks. Provide each query on its own line, nothing else.

Topic: %s
Queries:`, topic)
	} else {
		prompt = fmt.Sprintf(`You have already performed an initial search on '%s'. Generate 2-3 new, more specific or exploratory web search queries to deepen the understanding or check potential claims.
Don't wrap queries in quotation marks. Provide each query on its own line, nothing else.

Topic: %s
Queries:`, topic, topic)
	}

	raw, err := c.generate(ctx, "queries", c.model(c.routing.Queries), prompt)
	if err != nil {
		return nil, err
	}
	var queries []string
	for _, line := range strings.Split(raw, "\n") {
		if q := strings.TrimSpace(line); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries generated")
	}
	return queries, nil
}

// RefineTopic implements research.TopicRefiner.
func (c *Client) RefineTopic(ctx context.Context, message string) (string, error) {
	prompt := fmt.Sprintf(`You are an expert at distilling user requests into clear, concise, neutral research topics.
If the message below contains a clear topic, rephrase it as a formal, unbiased statement suitable for a multi-perspective research task and return ONLY the refined topic string.
If the message is ambiguous, a greeting, or contains no research request, return the single word "CLARIFY".
No preamble.

User message: '%s'`, message)

	raw, err := c.generate(ctx, "refinement", c.model(c.routing.Queries), prompt)
	if err != nil {
		return "", err
	}
	topic := strings.TrimSpace(raw)
	if strings.EqualFold(strings.Trim(topic, `"'.`), "CLARIFY") {
		return "", research.ErrNeedsClarification
	}
	return topic, nil
}

// extractJSON strips markdown code fences and any prose surrounding the
// first JSON object in a model response.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// isJSONList reports whether the raw message is a JSON array.
func isJSONList(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "[")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
