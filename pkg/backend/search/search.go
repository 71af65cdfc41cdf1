// Package search defines the interfaces for web and scholarly search
// backends used by the research workflow.
package search

import (
	"context"

	"github.com/sylvanops/cogate/pkg/backend"
)

// WebSearcher is the abstraction over any general web-search backend.
type WebSearcher interface {
	// Search runs query and returns up to limit results, best first.
	// limit <= 0 means the adapter's default page size.
	Search(ctx context.Context, query string, limit int) ([]backend.SearchResult, error)
}

// ScholarSearcher is the abstraction over any academic-paper search backend.
type ScholarSearcher interface {
	// SearchScholarly runs query against a scholarly index and returns up to
	// limit papers, best first.
	SearchScholarly(ctx context.Context, query string, limit int) ([]backend.Paper, error)
}
