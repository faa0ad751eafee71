package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/normagent/normagent/internal/guard"
	"github.com/normagent/normagent/internal/index"
	"github.com/normagent/normagent/internal/plan"
)

// Searcher is the corpus query surface the search tool needs.
type Searcher interface {
	Search(keywords []string, expectedDocs []string, limit int) ([]index.Hit, error)
}

// SearchTool queries the document corpus with a step's keywords.
type SearchTool struct {
	corpus Searcher
	hits   int
}

// NewSearchTool wraps a corpus searcher. hits caps results per query.
func NewSearchTool(corpus Searcher, hits int) *SearchTool {
	if hits <= 0 {
		hits = 3
	}
	return &SearchTool{corpus: corpus, hits: hits}
}

// Name implements Tool.
func (t *SearchTool) Name() plan.Tool { return plan.ToolSearch }

// Run executes the search. No results is a not_found outcome, not an
// error; only backend failure is an error.
func (t *SearchTool) Run(ctx context.Context, step plan.Step, _ Lookup) (plan.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return plan.StepResult{}, err
	}

	hits, err := t.corpus.Search(step.SemanticKeywords, step.ExpectedDocuments, t.hits)
	if err != nil {
		return plan.StepResult{}, fmt.Errorf("%w: search: %v", guard.ErrToolFailure, err)
	}

	if len(hits) == 0 {
		return plan.StepResult{
			StepNumber: step.Number,
			Status:     plan.ResultNotFound,
			Summary:    fmt.Sprintf("no documents matched keywords %v", step.SemanticKeywords),
		}, nil
	}

	top := hits[0]
	return plan.StepResult{
		StepNumber: step.Number,
		Status:     plan.ResultSuccess,
		Source: &plan.Source{
			DocumentName: top.DocCode,
			Locator:      top.Section,
		},
		Summary: renderHits(hits),
	}, nil
}

// renderHits formats retrieved fragments as evidence for downstream fact
// extraction.
func renderHits(hits []index.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, h.DocCode)
		if h.Section != "" {
			fmt.Fprintf(&b, " section %s", h.Section)
		}
		b.WriteString(":\n")
		b.WriteString(snippet(h.Text, 500))
	}
	return b.String()
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
