package research

import (
	"context"
	"log"
)

// Flatten turns per-article perspective groups into one flat ordered
// sequence, preserving article order and within-article order. Downstream
// cluster indices refer to positions in this exact flattening, so the order
// must be reproducible from the same input.
func Flatten(articlePerspectives []ArticlePerspectives) []ExtractedPerspective {
	var all []ExtractedPerspective
	for _, ap := range articlePerspectives {
		all = append(all, ap.Perspectives...)
	}
	return all
}

// IndexSummaries projects flattened perspectives to the (index, summary)
// payload sent to the grouping oracle. Full argument and evidence text never
// goes into the oracle prompt.
func IndexSummaries(perspectives []ExtractedPerspective) []IndexedSummary {
	out := make([]IndexedSummary, len(perspectives))
	for i, p := range perspectives {
		out[i] = IndexedSummary{Index: i, Summary: p.PerspectiveSummary}
	}
	return out
}

// Engine is the perspective clustering and consolidation engine. It invokes
// the grouping oracle over this iteration's new perspectives and merges the
// result into named, argument-deduplicated clusters, carrying prior state
// forward by exact perspective-name match.
type Engine struct {
	oracle   ClusterOracle
	narrator Narrator
	logger   *log.Logger
}

func NewEngine(oracle ClusterOracle, narrator Narrator, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[CLUSTER] ", log.LstdFlags)
	}
	return &Engine{oracle: oracle, narrator: narrator, logger: logger}
}

// Cluster consolidates this iteration's newly extracted perspectives against
// the existing final perspectives. With no new perspectives it returns an
// empty result without calling any collaborator.
func (e *Engine) Cluster(ctx context.Context, articlePerspectives []ArticlePerspectives, existing []FinalPerspective, iteration int) ([]ConsolidatedPerspective, error) {
	if len(articlePerspectives) == 0 {
		e.logger.Printf("no perspectives to consolidate, skipping clustering")
		return nil, nil
	}
	all := Flatten(articlePerspectives)
	if len(all) == 0 {
		e.logger.Printf("no perspectives to consolidate, skipping clustering")
		return nil, nil
	}

	// Existing perspectives are only offered to the oracle from the second
	// iteration on; the first pass always creates clusters from scratch.
	var priors []FinalPerspective
	if iteration > 1 && len(existing) > 0 {
		priors = existing
	}

	e.logger.Printf("clustering %d perspectives (iteration %d, %d existing)", len(all), iteration, len(priors))
	assignments, err := e.oracle.ClusterPerspectives(ctx, IndexSummaries(all), priors)
	if err != nil {
		return nil, err
	}

	return e.consolidate(ctx, assignments, all, existing, iteration), nil
}

// consolidate merges each oracle cluster with any same-named existing
// perspective and this iteration's assigned perspectives. Exact string
// equality of the name is the only linkage across iterations: a renamed
// cluster starts a fresh history.
func (e *Engine) consolidate(ctx context.Context, assignments []ClusterAssignment, all []ExtractedPerspective, existing []FinalPerspective, iteration int) []ConsolidatedPerspective {
	byName := make(map[string]FinalPerspective, len(existing))
	for _, p := range existing {
		byName[p.PerspectiveName] = p
	}

	consolidated := make([]ConsolidatedPerspective, 0, len(assignments))
	for _, cluster := range assignments {
		var arguments, narratives, evidence []string

		if prior, ok := byName[cluster.ClusterName]; ok {
			e.logger.Printf("updating existing perspective %q with new article perspectives", cluster.ClusterName)
			arguments = append(arguments, prior.CoreArguments...)
			if prior.Narrative != "" {
				narratives = append(narratives, prior.Narrative)
			}
			evidence = append(evidence, prior.SupportingEvidence...)
		} else if iteration > 1 {
			e.logger.Printf("creating new perspective %q from new articles", cluster.ClusterName)
		}

		for _, index := range cluster.PerspectiveIndices {
			if index < 0 || index >= len(all) {
				// The oracle is noisy; an out-of-range index is dropped, not
				// an error.
				continue
			}
			p := all[index]
			arguments = append(arguments, p.KeyArguments...)
			if p.ContextualNarrative != "" {
				narratives = append(narratives, p.ContextualNarrative)
			}
			evidence = append(evidence, p.EvidenceProvided...)
		}

		arguments = dedupePreserveOrder(arguments)
		narratives = dedupePreserveOrder(narratives)
		evidence = dedupePreserveOrder(evidence)

		// Recomputed from the full accumulated narrative set on every pass,
		// never incrementally patched.
		synthesis, err := e.narrator.Narrate(ctx, cluster.ClusterName, narratives)
		if err != nil {
			e.logger.Printf("preliminary synthesis failed for %q: %v", cluster.ClusterName, err)
			synthesis = ""
		}

		consolidated = append(consolidated, ConsolidatedPerspective{
			PerspectiveName:      cluster.ClusterName,
			AggregatedArguments:  arguments,
			AggregatedNarratives: narratives,
			SupportingEvidence:   evidence,
			PreliminarySynthesis: synthesis,
		})
		e.logger.Printf("processed cluster %q with %d arguments", cluster.ClusterName, len(arguments))
	}
	return consolidated
}

// dedupePreserveOrder removes duplicate strings keeping the first occurrence
// of each, so aggregates stay set-like but deterministic.
func dedupePreserveOrder(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
