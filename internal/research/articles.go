package research

import (
	"strings"

	"github.com/mohammad-safakhou/polyview/internal/search"
)

// ArticleStore holds the deduplicated raw articles of a single run. Articles
// are keyed by their URL-derived id, so the same page can never enter a run
// twice regardless of how many queries or providers surface it.
type ArticleStore struct {
	byID     map[string]struct{}
	articles []RawArticle
}

func NewArticleStore() *ArticleStore {
	return &ArticleStore{byID: make(map[string]struct{})}
}

// Add filters search results by the minimum relevance threshold, drops
// results without a usable URL or content, and appends the unseen remainder.
// It returns only the newly admitted articles, in result order.
func (s *ArticleStore) Add(results []search.Result, threshold float64) []RawArticle {
	var added []RawArticle
	for _, r := range results {
		url := strings.TrimSpace(r.URL)
		if url == "" || strings.TrimSpace(r.Content) == "" {
			continue
		}
		if r.Score < threshold {
			continue
		}
		id := ArticleID(url)
		if _, ok := s.byID[id]; ok {
			continue
		}
		s.byID[id] = struct{}{}
		article := RawArticle{ID: id, URL: url, Title: r.Title, Content: r.Content}
		s.articles = append(s.articles, article)
		added = append(added, article)
	}
	return added
}

// All returns every article admitted so far, in insertion order.
func (s *ArticleStore) All() []RawArticle {
	out := make([]RawArticle, len(s.articles))
	copy(out, s.articles)
	return out
}

// Len returns the number of stored articles.
func (s *ArticleStore) Len() int { return len(s.articles) }
