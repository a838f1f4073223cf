package research

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
)

// ExtractionAdapter fans per-article extraction calls out to the viewpoint
// extractor with bounded parallelism. One article failing excludes only that
// article; the batch always completes. Results are returned in the original
// article order so the downstream flattening stays deterministic.
type ExtractionAdapter struct {
	extractor   PerspectiveExtractor
	concurrency int
	logger      *log.Logger
}

func NewExtractionAdapter(extractor PerspectiveExtractor, concurrency int, logger *log.Logger) *ExtractionAdapter {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &ExtractionAdapter{extractor: extractor, concurrency: concurrency, logger: logger}
}

// ExtractAll processes the given articles and returns one ArticlePerspectives
// per article that succeeded. Failed articles are logged and omitted; no
// retries happen here (transport-level retries belong to the collaborator).
func (a *ExtractionAdapter) ExtractAll(ctx context.Context, topic string, articles []RawArticle) []ArticlePerspectives {
	if len(articles) == 0 {
		return nil
	}
	a.logger.Printf("extracting perspectives from %d articles on topic %q", len(articles), topic)

	results := make([]*ArticlePerspectives, len(articles))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, article := range articles {
		g.Go(func() error {
			perspectives, err := a.extractor.ExtractPerspectives(ctx, topic, article.Content)
			if err != nil {
				a.logger.Printf("extraction failed for article %s (%s): %v", article.ID, article.URL, err)
				return nil
			}
			results[i] = &ArticlePerspectives{
				SourceArticleID: article.ID,
				Perspectives:    perspectives,
			}
			a.logger.Printf("article %s yielded %d perspective(s)", article.ID, len(perspectives))
			return nil
		})
	}
	_ = g.Wait()

	out := make([]ArticlePerspectives, 0, len(articles))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
