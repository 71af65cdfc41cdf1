// Package mock provides test doubles for the search interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/sylvanops/cogate/pkg/backend"
)

// Searcher is a mock implementation of both search.WebSearcher and
// search.ScholarSearcher. Zero values cause methods to return zero values
// and nil errors.
type Searcher struct {
	mu sync.Mutex

	// Results is returned by Search.
	Results []backend.SearchResult

	// Papers is returned by SearchScholarly.
	Papers []backend.Paper

	// Err, if non-nil, is returned by both methods.
	Err error

	// Queries records every query passed to either method, in order.
	Queries []string
}

// Search implements search.WebSearcher.
func (s *Searcher) Search(_ context.Context, query string, limit int) ([]backend.SearchResult, error) {
	s.mu.Lock()
	s.Queries = append(s.Queries, query)
	results, err := s.Results, s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return append([]backend.SearchResult(nil), results...), nil
}

// SearchScholarly implements search.ScholarSearcher.
func (s *Searcher) SearchScholarly(_ context.Context, query string, limit int) ([]backend.Paper, error) {
	s.mu.Lock()
	s.Queries = append(s.Queries, query)
	papers, err := s.Papers, s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(papers) {
		papers = papers[:limit]
	}
	return append([]backend.Paper(nil), papers...), nil
}

// SeenQueries returns a snapshot of recorded queries.
func (s *Searcher) SeenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Queries...)
}
