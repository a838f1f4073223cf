package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// RawArticle is a deduplicated source document gathered during search.
// Immutable once created; identity is derived from the URL so re-fetching the
// same page can never duplicate it within a run.
type RawArticle struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ArticleID returns the stable content-derived identifier for a URL.
func ArticleID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// ExtractedPerspective is a single raw viewpoint found within one article.
// Owned by the article that produced it; immutable.
type ExtractedPerspective struct {
	PerspectiveSummary   string   `json:"perspective_summary"`
	KeyArguments         []string `json:"key_arguments"`
	ContextualNarrative  string   `json:"contextual_narrative"`
	SourceArticleSummary string   `json:"source_article_summary"`
	InferredAssumptions  []string `json:"inferred_assumptions"`
	EvidenceProvided     []string `json:"evidence_provided"`
}

// ArticlePerspectives groups the perspectives extracted from one article.
type ArticlePerspectives struct {
	SourceArticleID string                 `json:"source_article_id"`
	Perspectives    []ExtractedPerspective `json:"perspectives"`
}

// ConsolidatedPerspective is a named cluster of perspectives with
// deduplicated aggregates. Rebuilt on every clustering pass; the
// perspective_name is the sole identity linking a cluster to prior
// iterations.
type ConsolidatedPerspective struct {
	PerspectiveName      string   `json:"perspective_name"`
	AggregatedArguments  []string `json:"aggregated_arguments"`
	AggregatedNarratives []string `json:"aggregated_narratives"`
	SupportingEvidence   []string `json:"supporting_evidence"`
	PreliminarySynthesis string   `json:"preliminary_synthesis"`
}

// FinalPerspective is the polished analysis of one perspective, produced by
// the batched synthesis call. It feeds back into the next clustering
// iteration as the set of existing perspectives.
type FinalPerspective struct {
	PerspectiveName    string   `json:"perspective_name"`
	Narrative          string   `json:"narrative"`
	CoreArguments      []string `json:"core_arguments"`
	CommonAssumptions  []string `json:"common_assumptions"`
	Strengths          []string `json:"strengths"`
	Weaknesses         []string `json:"weaknesses"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

// IndexedSummary is the projection of one flattened perspective sent to the
// grouping oracle: position and summary text only, never the full
// argument/evidence payload.
type IndexedSummary struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
}

// ClusterAssignment is one named cluster returned by the grouping oracle.
// Indices refer to positions in the flattened perspective list; out-of-range
// indices are ignored, and clusters are not required to partition the input.
type ClusterAssignment struct {
	ClusterName        string `json:"cluster_name"`
	PerspectiveIndices []int  `json:"perspective_indices"`
}

// State is the mutable run state carried through the pipeline stages.
// One research run owns exactly one State; concurrent runs never share it.
type State struct {
	Topic                    string                    `json:"topic"`
	Phase                    Phase                     `json:"phase"`
	Iteration                int                       `json:"iteration"`
	RawArticles              []RawArticle              `json:"raw_articles"`
	ArticlePerspectives      []ArticlePerspectives     `json:"article_perspectives"`
	ConsolidatedPerspectives []ConsolidatedPerspective `json:"consolidated_perspectives"`
	FinalPerspectives        []FinalPerspective        `json:"final_perspectives"`
	Summary                  string                    `json:"summary"`
}

// Report is the terminal payload of a completed run.
type Report struct {
	Topic        string             `json:"topic"`
	Perspectives []FinalPerspective `json:"perspectives"`
	Summary      string             `json:"summary"`
}

// ErrNeedsClarification is returned by topic refinement when the user's
// message does not contain a researchable topic.
var ErrNeedsClarification = errors.New("message needs clarification")

// PerspectiveExtractor extracts viewpoints from one article's text.
// Opaque text-to-structured-data collaborator; may fail per article.
type PerspectiveExtractor interface {
	ExtractPerspectives(ctx context.Context, topic, articleText string) ([]ExtractedPerspective, error)
}

// ClusterOracle groups indexed perspective summaries into named clusters,
// optionally reusing names from the existing perspectives it is shown.
// Treated as a noisy classifier: results may omit indices or repeat them
// across clusters.
type ClusterOracle interface {
	ClusterPerspectives(ctx context.Context, perspectives []IndexedSummary, existing []FinalPerspective) ([]ClusterAssignment, error)
}

// Narrator produces the short per-cluster preliminary synthesis from the
// accumulated narratives.
type Narrator interface {
	Narrate(ctx context.Context, clusterName string, narratives []string) (string, error)
}

// SynthesisOracle turns a batch of consolidated perspectives into final
// perspectives in a single call.
type SynthesisOracle interface {
	Synthesize(ctx context.Context, consolidated []ConsolidatedPerspective) ([]FinalPerspective, error)
}

// Summarizer produces the balanced narrative summary from the finished
// perspective set. onToken, when non-nil, receives incremental tokens.
type Summarizer interface {
	Summarize(ctx context.Context, perspectives []FinalPerspective, onToken func(string)) (string, error)
}

// QueryPlanner generates the search queries for an iteration.
type QueryPlanner interface {
	PlanQueries(ctx context.Context, topic string, iteration int) ([]string, error)
}

// TopicRefiner distills a free-form user message into a neutral research
// topic, or returns ErrNeedsClarification.
type TopicRefiner interface {
	RefineTopic(ctx context.Context, message string) (string, error)
}
