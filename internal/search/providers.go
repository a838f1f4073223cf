package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/polyview/config"
)

// Result is a single candidate document returned by a search provider.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"` // full text when available, else snippet
	Score   float64 `json:"score"`   // relevance estimate in [0,1]
}

// Provider is a remote article search backend. Providers are treated as
// opaque, possibly unreliable and rate limited; callers decide how to combine
// and filter their results.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
	Name() string
}

// NewProviders builds the providers enabled by configuration.
func NewProviders(cfg config.SourcesConfig) []Provider {
	httpc := NewHTTPClient(cfg.WebSearch.Timeout, 2, 300*time.Millisecond)
	var providers []Provider
	if cfg.NewsAPI.APIKey != "" {
		providers = append(providers, &NewsAPIClient{cfg: cfg.NewsAPI, http: httpc})
	}
	if cfg.WebSearch.BraveAPIKey != "" {
		providers = append(providers, &BraveClient{cfg: cfg.WebSearch, http: httpc})
	}
	if cfg.WebSearch.SerperAPIKey != "" {
		providers = append(providers, &SerperClient{cfg: cfg.WebSearch, http: httpc})
	}
	return providers
}

// NewsAPIClient implements Provider using newsapi.org
type NewsAPIClient struct {
	cfg  config.NewsAPIConfig
	http *HTTPClient
}

func (n *NewsAPIClient) Name() string { return "newsapi" }

func (n *NewsAPIClient) Search(ctx context.Context, query string) ([]Result, error) {
	endpoint := n.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://newsapi.org/v2/everything"
	}
	var resp struct {
		Articles []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Content     string `json:"content"`
		} `json:"articles"`
	}
	headers := map[string]string{"X-Api-Key": n.cfg.APIKey}
	u := fmt.Sprintf("%s?q=%s&language=en&sortBy=relevancy&pageSize=%d",
		endpoint, url.QueryEscape(query), max1(n.cfg.MaxResults, 20))
	if err := n.http.DoJSON(ctx, "GET", u, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Articles))
	for i, a := range resp.Articles {
		content := strings.TrimSpace(a.Content)
		if content == "" {
			content = strings.TrimSpace(a.Description)
		}
		out = append(out, Result{
			URL:     a.URL,
			Title:   a.Title,
			Content: content,
			Score:   rankScore(0.8, i),
		})
	}
	return out, nil
}

// BraveClient implements Provider using the Brave Search API
type BraveClient struct {
	cfg  config.WebSearchConfig
	http *HTTPClient
}

func (b *BraveClient) Name() string { return "brave" }

func (b *BraveClient) Search(ctx context.Context, query string) ([]Result, error) {
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.cfg.BraveAPIKey}
	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), max1(b.cfg.MaxResults, 10))
	if err := b.http.DoJSON(ctx, "GET", u, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Web.Results))
	for i, r := range resp.Web.Results {
		out = append(out, Result{URL: r.URL, Title: r.Title, Content: r.Description, Score: rankScore(0.6, i)})
	}
	return out, nil
}

// SerperClient implements Provider using serper.dev
type SerperClient struct {
	cfg  config.WebSearchConfig
	http *HTTPClient
}

func (s *SerperClient) Name() string { return "serper" }

func (s *SerperClient) Search(ctx context.Context, query string) ([]Result, error) {
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.cfg.SerperAPIKey}
	body := map[string]any{"q": query, "num": max1(s.cfg.MaxResults, 10)}
	if err := s.http.DoJSON(ctx, "POST", "https://google.serper.dev/search", headers, body, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Organic))
	for i, r := range resp.Organic {
		out = append(out, Result{URL: r.Link, Title: r.Title, Content: r.Snippet, Score: rankScore(0.65, i)})
	}
	return out, nil
}

// rankScore derives a relevance estimate from the provider's base credibility
// and the result's rank. Providers here don't return numeric scores, so rank
// order is the only relevance signal available.
func rankScore(base float64, rank int) float64 {
	s := base - 0.02*float64(rank)
	if s < 0.1 {
		s = 0.1
	}
	return s
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
