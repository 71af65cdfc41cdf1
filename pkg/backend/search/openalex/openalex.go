// Package openalex provides a search.ScholarSearcher backed by the OpenAlex
// works API (https://api.openalex.org). No API key is required; supplying a
// mailto address moves requests into the polite pool.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/search"
)

const (
	defaultBaseURL = "https://api.openalex.org"
	defaultLimit   = 10
	maxLimit       = 200
)

var _ search.ScholarSearcher = (*Searcher)(nil)

// Option is a functional option for configuring a Searcher.
type Option func(*Searcher)

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(s *Searcher) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithMailto adds the given address to every request, opting into the
// OpenAlex polite pool with its better rate limits.
func WithMailto(addr string) Option {
	return func(s *Searcher) { s.mailto = addr }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 20 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.httpClient.Timeout = d }
}

// Searcher implements search.ScholarSearcher against the OpenAlex works API.
type Searcher struct {
	id         string
	baseURL    string
	mailto     string
	httpClient *http.Client
}

// New creates a Searcher identified by id.
func New(id string, opts ...Option) (*Searcher, error) {
	if id == "" {
		return nil, fmt.Errorf("openalex: id must not be empty")
	}
	s := &Searcher{
		id:         id,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// worksResponse mirrors the fields of the /works envelope the gateway uses.
// Abstracts come back as an inverted index (word -> positions) and are
// reconstructed client-side.
type worksResponse struct {
	Results []struct {
		Title           string `json:"title"`
		DOI             string `json:"doi"`
		ID              string `json:"id"`
		PublicationYear int    `json:"publication_year"`
		Authorships     []struct {
			Author struct {
				DisplayName string `json:"display_name"`
			} `json:"author"`
		} `json:"authorships"`
		AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	} `json:"results"`
}

// SearchScholarly implements search.ScholarSearcher.
func (s *Searcher) SearchScholarly(ctx context.Context, query string, limit int) ([]backend.Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, backend.Rejected(s.id, "query must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("per-page", strconv.Itoa(limit))
	if s.mailto != "" {
		params.Set("mailto", s.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/works?"+params.Encode(), nil)
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
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, backend.Unavailable(s.id, "rate limited (HTTP 429)")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backend.Rejected(s.id, "API returned HTTP %d", resp.StatusCode)
	default:
		return nil, backend.Unavailable(s.id, "API returned HTTP %d", resp.StatusCode)
	}

	var body worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, backend.Protocol(s.id, "parse JSON response").WithCause(err)
	}

	papers := make([]backend.Paper, 0, len(body.Results))
	for _, w := range body.Results {
		uri := w.DOI
		if uri == "" {
			uri = w.ID
		}
		p := backend.Paper{
			Title:    w.Title,
			URI:      uri,
			Year:     w.PublicationYear,
			Abstract: reconstructAbstract(w.AbstractInvertedIndex),
		}
		for _, a := range w.Authorships {
			p.Authors = append(p.Authors, a.Author.DisplayName)
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// reconstructAbstract rebuilds abstract text from the OpenAlex inverted
// index representation.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	max := 0
	for _, positions := range index {
		for _, p := range positions {
			if p > max {
				max = p
			}
		}
	}
	words := make([]string, max+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 && p < len(words) {
				words[p] = word
			}
		}
	}
	return strings.TrimSpace(strings.Join(words, " "))
}
