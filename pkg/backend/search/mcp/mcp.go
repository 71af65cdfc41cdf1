// Package mcp provides a search.WebSearcher backed by a Model Context
// Protocol server exposing a search tool (e.g. a Brave or Tavily MCP
// server). The adapter connects over stdio or streamable HTTP, calls the
// configured tool with {"query": ..., "count": ...} arguments, and parses
// the text content of the result as a JSON result array.
//
// Usage:
//
//	w, err := mcp.New("brave-mcp", mcp.Config{
//	    Command:  "npx",
//	    Args:     []string{"-y", "@modelcontextprotocol/server-brave-search"},
//	    ToolName: "brave_web_search",
//	})
//	defer w.Close()
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/search"
)

const defaultLimit = 10

var _ search.WebSearcher = (*Searcher)(nil)

// Config describes how to reach the MCP server and which tool to call.
// Exactly one of Command or URL must be set.
type Config struct {
	// ID is the backend id used in routing policies.
	ID string

	// Command starts a stdio MCP server as a subprocess.
	Command string
	// Args are passed to Command.
	Args []string
	// Env holds extra KEY=VALUE pairs for the subprocess.
	Env []string

	// URL connects to a streamable HTTP MCP server instead of spawning one.
	URL string

	// ToolName is the search tool to call on the server.
	ToolName string
}

// Searcher implements search.WebSearcher over one MCP server session.
type Searcher struct {
	id       string
	toolName string

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// New connects to the MCP server described by cfg and verifies the session.
// The caller must Close the searcher when done.
func New(ctx context.Context, cfg Config) (*Searcher, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("mcp: ID must not be empty")
	}
	if cfg.ToolName == "" {
		return nil, fmt.Errorf("mcp: ToolName must not be empty")
	}
	if (cfg.Command == "") == (cfg.URL == "") {
		return nil, fmt.Errorf("mcp: exactly one of Command or URL must be set")
	}

	var transport mcpsdk.Transport
	if cfg.Command != "" {
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		cmd.Env = append(cmd.Environ(), cfg.Env...)
		transport = &mcpsdk.CommandTransport{Command: cmd}
	} else {
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "cogate-search", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect to search server: %w", err)
	}

	return &Searcher{id: cfg.ID, toolName: cfg.ToolName, session: session}, nil
}

// Close terminates the MCP session (and the subprocess, for stdio servers).
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// resultItem covers the common shapes search MCP servers emit: some use
// url/description, some link/snippet.
type resultItem struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Link        string  `json:"link"`
	Description string  `json:"description"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
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

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil, backend.Unavailable(s.id, "session is closed")
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: s.toolName,
		Arguments: map[string]any{
			"query": query,
			"count": limit,
		},
	})
	if err != nil {
		return nil, backend.Classify(s.id, err)
	}
	if res.IsError {
		return nil, backend.Rejected(s.id, "tool %q reported an error: %s", s.toolName, textOf(res))
	}

	return s.parseResults(textOf(res), limit)
}

// textOf concatenates all text content blocks of a tool result.
func textOf(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// parseResults decodes the tool output. A JSON array (bare or under a
// "results" key) is mapped field by field; anything else becomes a single
// snippet-only result so the caller still gets the text.
func (s *Searcher) parseResults(text string, limit int) ([]backend.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var items []resultItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		var envelope struct {
			Results []resultItem `json:"results"`
		}
		if err := json.Unmarshal([]byte(text), &envelope); err != nil || envelope.Results == nil {
			return []backend.SearchResult{{Snippet: text}}, nil
		}
		items = envelope.Results
	}

	results := make([]backend.SearchResult, 0, min(limit, len(items)))
	for _, it := range items {
		if len(results) >= limit {
			break
		}
		uri := it.URL
		if uri == "" {
			uri = it.Link
		}
		snippet := it.Description
		if snippet == "" {
			snippet = it.Snippet
		}
		results = append(results, backend.SearchResult{
			Title:   it.Title,
			URI:     uri,
			Snippet: snippet,
			Score:   it.Score,
		})
	}
	return results, nil
}
