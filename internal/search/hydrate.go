package search

import (
	"bytes"
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// snippetThreshold is the content length below which a result is considered
// snippet-only and worth hydrating with the full page text.
const snippetThreshold = 600

// Hydrator fetches result URLs and replaces snippet content with readable
// article text. Fetch or parse failures keep the snippet; hydration never
// drops a result.
type Hydrator struct {
	http   *HTTPClient
	logger *log.Logger
}

func NewHydrator(logger *log.Logger) *Hydrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[HYDRATE] ", log.LstdFlags)
	}
	return &Hydrator{
		http:   NewHTTPClient(20*time.Second, 1, 500*time.Millisecond),
		logger: logger,
	}
}

// Hydrate returns the results with snippet-only entries upgraded to full
// article text where possible.
func (h *Hydrator) Hydrate(ctx context.Context, results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	for i := range out {
		if len(out[i].Content) >= snippetThreshold {
			continue
		}
		text, err := h.fetchReadable(ctx, out[i].URL)
		if err != nil {
			h.logger.Printf("hydration failed for %s: %v", out[i].URL, err)
			continue
		}
		if len(text) > len(out[i].Content) {
			out[i].Content = text
		}
	}
	return out
}

func (h *Hydrator) fetchReadable(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	body, err := h.http.Get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}
