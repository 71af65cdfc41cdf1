// Package research defines the deep-research workflow: a query is
// clarified, sourced from web and scholarly search, synthesized, outlined,
// written section by section and finalized into a referenced document.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/llm"
)

// Step labels, also the output keys on the workflow state.
const (
	StepClarify    = "clarify"
	StepSearch     = "search"
	StepSynthesize = "synthesize"
	StepStructure  = "structure"
	StepWrite      = "write"
	StepFinalize   = "finalize"
)

const (
	defaultWebLimit     = 8
	defaultScholarLimit = 5
	defaultSectionLimit = 6

	// clarifyWordThreshold is the query length below which the clarify
	// step may be skipped.
	clarifyWordThreshold = 10

	// loadedTermSimilarity is the Jaro-Winkler score at which a query
	// word counts as a loaded term.
	loadedTermSimilarity = 0.92
)

// TextGenerator is the slice of the router the workflow needs for
// generation.
type TextGenerator interface {
	GenerateText(ctx context.Context, req llm.Request) (string, string, error)
}

// Searcher is the slice of the router the workflow needs for retrieval.
type Searcher interface {
	SearchWeb(ctx context.Context, query string, limit int) ([]backend.SearchResult, string, error)
	SearchScholarly(ctx context.Context, query string, limit int) ([]backend.Paper, string, error)
}

// Archive stores finished documents and retrieves prior related work.
// Implementations are optional; a nil Archive disables both behaviors.
type Archive interface {
	Similar(ctx context.Context, text string, k int) ([]Document, error)
	Store(ctx context.Context, doc Document) error
}

// Document is an archived research result.
type Document struct {
	ID       string
	Query    string
	Abstract string
	Body     string
	Created  time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithModel pins the generation model for all steps.
func WithModel(model string) Option {
	return func(b *Builder) { b.model = model }
}

// WithArchive enables prior-work lookup and result storage.
func WithArchive(a Archive) Option {
	return func(b *Builder) { b.archive = a }
}

// WithScholarly toggles the scholarly half of the search step.
func WithScholarly(enabled bool) Option {
	return func(b *Builder) { b.scholarly = enabled }
}

// WithLoadedTerms sets the term list that forces the clarify step even
// for short queries.
func WithLoadedTerms(terms []string) Option {
	return func(b *Builder) { b.loadedTerms = terms }
}

// WithLimits overrides result counts for web and scholarly search.
func WithLimits(web, scholarly int) Option {
	return func(b *Builder) {
		b.webLimit = web
		b.scholarLimit = scholarly
	}
}

// Builder assembles the research workflow definition around its backends.
type Builder struct {
	gen     TextGenerator
	search  Searcher
	archive Archive

	model        string
	scholarly    bool
	webLimit     int
	scholarLimit int

	mu          sync.RWMutex
	loadedTerms []string
}

// SetLoadedTerms replaces the loaded-term list. Used by config hot reload;
// safe to call while runs are in flight.
func (b *Builder) SetLoadedTerms(terms []string) {
	b.mu.Lock()
	b.loadedTerms = append([]string(nil), terms...)
	b.mu.Unlock()
}

// NewBuilder creates a Builder over the given generation and search
// backends.
func NewBuilder(gen TextGenerator, search Searcher, opts ...Option) *Builder {
	b := &Builder{
		gen:          gen,
		search:       search,
		scholarly:    true,
		webLimit:     defaultWebLimit,
		scholarLimit: defaultScholarLimit,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Definition returns the six-step research workflow.
func (b *Builder) Definition() workflow.Definition {
	return workflow.Definition{
		Name: "research",
		Steps: []workflow.Step{
			{
				Label:    StepClarify,
				SkipWhen: b.skipClarify,
				Run:      b.clarify,
				Timeout:  2 * time.Minute,
			},
			{
				Label:       StepSearch,
				Run:         b.searchStep,
				MaxAttempts: 2,
				Timeout:     3 * time.Minute,
			},
			{
				Label:   StepSynthesize,
				Run:     b.synthesize,
				Timeout: 5 * time.Minute,
			},
			{
				Label:   StepStructure,
				Run:     b.structure,
				Timeout: 2 * time.Minute,
			},
			{
				Label:   StepWrite,
				Run:     b.write,
				Timeout: 10 * time.Minute,
			},
			{
				Label:   StepFinalize,
				Run:     b.finalize,
				Timeout: 3 * time.Minute,
			},
		},
	}
}

// skipClarify skips clarification for short queries that carry no loaded
// terms. Long queries and emotionally or politically loaded topics get a
// refinement pass.
func (b *Builder) skipClarify(st *workflow.State) bool {
	words := strings.Fields(st.Input)
	if len(words) >= clarifyWordThreshold {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range words {
		for _, term := range b.loadedTerms {
			if matchr.JaroWinkler(strings.ToLower(w), strings.ToLower(term), true) >= loadedTermSimilarity {
				return false
			}
		}
	}
	return true
}

// query returns the effective research question: the clarified one when
// the clarify step produced it, the raw input otherwise.
func query(st *workflow.State) string {
	if q := st.Output(StepClarify); q != "" {
		return q
	}
	return st.Input
}

// generate runs one prompt through the text-generation router. A "model"
// run parameter overrides the builder's configured model.
func (b *Builder) generate(ctx context.Context, st *workflow.State, system, prompt string) (string, error) {
	out, _, err := b.gen.GenerateText(ctx, llm.Request{
		System:   system,
		Messages: []backend.Message{{Role: "user", Content: prompt}},
		Model:    st.Param("model", b.model),
	})
	return out, err
}

func (b *Builder) clarify(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	r.Action("refining research question")
	prompt := fmt.Sprintf(
		"Rewrite the following research request as one precise, neutral, answerable research question. "+
			"Resolve ambiguity, drop rhetorical framing, keep the user's intent.%s\n\nRequest: %s",
		directionHint(st), st.Input)
	out, err := b.generate(ctx, st, "You are a research librarian refining questions.", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// searchStep gathers web results and, when enabled, scholarly papers. The
// formatted source list becomes the step output; reference lines
// accumulate in the state for the finalize step.
func (b *Builder) searchStep(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	q := query(st)

	r.Action("searching the web")
	results, _, err := b.search.SearchWeb(ctx, q, b.webLimit)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	r.Metric("web_results", float64(len(results)))

	var sources strings.Builder
	var refs []string
	for i, res := range results {
		fmt.Fprintf(&sources, "[W%d] %s\n%s\n%s\n\n", i+1, res.Title, res.URI, res.Snippet)
		refs = append(refs, fmt.Sprintf("%s (%s)", res.Title, res.URI))
	}

	if b.scholarly {
		r.Action("searching scholarly literature")
		papers, _, err := b.search.SearchScholarly(ctx, q, b.scholarLimit)
		if err != nil {
			// Scholarly coverage is best-effort; web sources alone can
			// carry the synthesis.
			r.Metric("scholar_results", 0)
		} else {
			r.Metric("scholar_results", float64(len(papers)))
			for i, p := range papers {
				fmt.Fprintf(&sources, "[S%d] %s (%d) by %s\n%s\n%s\n\n",
					i+1, p.Title, p.Year, strings.Join(p.Authors, ", "), p.URI, p.Abstract)
				refs = append(refs, fmt.Sprintf("%s (%d), %s", p.Title, p.Year, p.URI))
			}
		}
	}

	if sources.Len() == 0 {
		return "", fmt.Errorf("no sources found for %q", q)
	}
	st.Params["references"] = refs
	return sources.String(), nil
}

// synthesize digests the sources into key findings, folding in prior
// archived work on the same topic when an archive is wired.
func (b *Builder) synthesize(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	q := query(st)
	var prior string
	if b.archive != nil {
		r.Action("checking prior research")
		docs, err := b.archive.Similar(ctx, q, 3)
		if err == nil && len(docs) > 0 {
			var sb strings.Builder
			for _, d := range docs {
				fmt.Fprintf(&sb, "Earlier research on %q: %s\n", d.Query, d.Abstract)
			}
			prior = sb.String()
			r.Metric("prior_documents", float64(len(docs)))
		}
	}

	r.Action("synthesizing findings")
	prompt := fmt.Sprintf(
		"Research question: %s\n\nSources:\n%s\n%s%s"+
			"Synthesize the key findings across these sources. Note agreements, "+
			"contradictions and gaps. Cite sources by their bracketed tags.",
		q, st.Output(StepSearch), prior, directionHint(st))
	return b.generate(ctx, st, "You are a careful research analyst.", prompt)
}

// Section is one planned part of the final document.
type Section struct {
	Heading string   `json:"heading"`
	Prompts []string `json:"prompts"`
}

// structure plans the document as a JSON outline of sections.
func (b *Builder) structure(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	r.Action("outlining the document")
	prompt := fmt.Sprintf(
		"Research question: %s\n\nFindings:\n%s\n%s"+
			"Plan a document answering the question. Reply with ONLY a JSON array of "+
			"at most %d objects, each {\"heading\": string, \"prompts\": [string]} where "+
			"prompts are the specific points the section must cover.",
		query(st), st.Output(StepSynthesize), directionHint(st), defaultSectionLimit)
	out, err := b.generate(ctx, st, "You are a technical editor planning documents.", prompt)
	if err != nil {
		return "", err
	}
	sections, err := parseSections(out)
	if err != nil {
		return "", err
	}
	r.Metric("sections", float64(len(sections)))
	normalized, err := json.Marshal(sections)
	if err != nil {
		return "", err
	}
	return string(normalized), nil
}

// parseSections tolerates models wrapping the JSON in prose or fences.
func parseSections(out string) ([]Section, error) {
	s := strings.TrimSpace(out)
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	var sections []Section
	if err := json.Unmarshal([]byte(s), &sections); err != nil {
		return nil, fmt.Errorf("outline is not valid JSON: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("outline has no sections")
	}
	if len(sections) > defaultSectionLimit {
		sections = sections[:defaultSectionLimit]
	}
	return sections, nil
}

// write expands every planned section concurrently and reassembles them
// in outline order.
func (b *Builder) write(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	var sections []Section
	if err := json.Unmarshal([]byte(st.Output(StepStructure)), &sections); err != nil {
		return "", fmt.Errorf("reading outline: %w", err)
	}

	r.Action("writing sections")
	findings := st.Output(StepSynthesize)
	drafts := make([]string, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	for i, sec := range sections {
		g.Go(func() error {
			prompt := fmt.Sprintf(
				"Findings:\n%s\n%s\nWrite the section %q of a research document. "+
					"Cover these points:\n- %s\n\nWrite flowing prose, cite bracketed source tags inline.",
				findings, directionHint(st), sec.Heading, strings.Join(sec.Prompts, "\n- "))
			text, err := b.generate(gctx, st, "You are a research writer.", prompt)
			if err != nil {
				return fmt.Errorf("section %q: %w", sec.Heading, err)
			}
			drafts[i] = fmt.Sprintf("## %s\n\n%s", sec.Heading, strings.TrimSpace(text))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	r.Metric("sections_written", float64(len(drafts)))
	return strings.Join(drafts, "\n\n"), nil
}

// finalize prepends a generated abstract, appends the reference list and
// archives the result when an archive is wired.
func (b *Builder) finalize(ctx context.Context, st *workflow.State, r workflow.Reporter) (string, error) {
	body := st.Output(StepWrite)

	r.Action("writing abstract")
	abstract, err := b.generate(ctx, st, "You are a research editor.",
		"Write a single-paragraph abstract (under 150 words) for this document:\n\n"+body)
	if err != nil {
		return "", err
	}
	abstract = strings.TrimSpace(abstract)

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n%s\n\n%s\n", query(st), abstract, body)
	if refs, ok := st.Params["references"].([]string); ok && len(refs) > 0 {
		doc.WriteString("\n## References\n\n")
		for i, ref := range refs {
			fmt.Fprintf(&doc, "%d. %s\n", i+1, ref)
		}
	}
	final := doc.String()

	if b.archive != nil {
		r.Action("archiving document")
		err := b.archive.Store(ctx, Document{
			Query:    query(st),
			Abstract: abstract,
			Body:     final,
			Created:  time.Now(),
		})
		if err != nil {
			// Losing the archive copy does not invalidate the document.
			r.Metric("archived", 0)
		} else {
			r.Metric("archived", 1)
		}
	}
	return final, nil
}

// directionHint renders the caller's steering, when present, for inclusion
// in prompts. Live direction modifications take precedence over the
// "direction" run parameter.
func directionHint(st *workflow.State) string {
	dir := st.Direction
	if dir == "" {
		dir = st.Param("direction", "")
	}
	if dir == "" {
		return ""
	}
	return fmt.Sprintf("\nCaller direction: %s\n", dir)
}
