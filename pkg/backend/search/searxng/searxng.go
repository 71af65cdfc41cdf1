// Package searxng provides a search.WebSearcher backed by a SearxNG
// metasearch instance via its JSON API (GET /search?format=json).
//
// The instance must have the json format enabled in its settings
// (search.formats). Public instances usually do not; run your own.
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/search"
)

const defaultLimit = 10

var _ search.WebSearcher = (*Searcher)(nil)

// Option is a functional option for configuring a Searcher.
type Option func(*Searcher)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.httpClient.Timeout = d }
}

// WithCategories sets the SearxNG categories parameter (e.g. "general",
// "science"). Empty leaves the instance default.
func WithCategories(categories string) Option {
	return func(s *Searcher) { s.categories = categories }
}

// Searcher implements search.WebSearcher against a SearxNG instance.
type Searcher struct {
	id         string
	baseURL    string
	categories string
	httpClient *http.Client
}

// New creates a Searcher identified by id targeting the SearxNG instance at
// baseURL (e.g. "http://localhost:8888").
func New(id, baseURL string, opts ...Option) (*Searcher, error) {
	if id == "" {
		return nil, fmt.Errorf("searxng: id must not be empty")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("searxng: baseURL must not be empty")
	}
	s := &Searcher{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// searchResponse mirrors the fields of the SearxNG JSON result envelope the
// gateway cares about.
type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements search.WebSearcher.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]backend.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, backend.Rejected(s.id, "query must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if s.categories != "" {
		params.Set("categories", s.categories)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, backend.Protocol(s.id, "create request").WithCause(err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(s.id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden:
		// The instance has the json format disabled.
		return nil, backend.Rejected(s.id, "instance refused format=json (HTTP 403)")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backend.Rejected(s.id, "instance returned HTTP %d", resp.StatusCode)
	default:
		return nil, backend.Unavailable(s.id, "instance returned HTTP %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, backend.Protocol(s.id, "parse JSON response").WithCause(err)
	}

	results := make([]backend.SearchResult, 0, min(limit, len(body.Results)))
	for _, r := range body.Results {
		if len(results) >= limit {
			break
		}
		results = append(results, backend.SearchResult{
			Title:   r.Title,
			URI:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}
