// Package finalizer turns the accumulated successful results into the
// session's final answer. Citations are restricted to sources that
// actually appear in the execution history; anything else the model
// offers is dropped.
package finalizer

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
)

type Finalizer struct {
	provider   llm.Provider
	log        *logging.Logger
	maxRetries int
}

func New(provider llm.Provider, log *logging.Logger, maxRetries int) *Finalizer {
	if log == nil {
		log = logging.Nop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Finalizer{provider: provider, log: log.WithComponent("finalizer"), maxRetries: maxRetries}
}

// wireAnswer is the YAML shape the model responds with.
type wireAnswer struct {
	Analysis string `yaml:"analysis"`
	Sources  []struct {
		Document string `yaml:"document"`
		Locator  string `yaml:"locator"`
	} `yaml:"sources"`
	Limitations     string `yaml:"limitations"`
	Recommendations string `yaml:"recommendations"`
}

// Finalize composes the final answer from st's successful results. It does
// not mutate st; the caller stores the answer and completes the session.
func (f *Finalizer) Finalize(ctx context.Context, st *state.State) (*state.FinalAnswer, error) {
	ctx, span := telemetry.StartSpan(ctx, "finalizer.finalize",
		attribute.String("session.id", st.SessionID()),
	)

	successes := st.SuccessfulResults()
	req := llm.Request{
		System: systemPrompt,
		Prompt: buildAnswerPrompt(st, successes),
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			telemetry.EndSpan(span, err)
			return nil, err
		}

		resp, err := f.provider.Generate(ctx, req)
		if err != nil {
			err = fmt.Errorf("finalizer: provider: %w", err)
			telemetry.EndSpan(span, err)
			return nil, err
		}

		var w wireAnswer
		if err := extract.Decode(resp.Text, &w); err != nil {
			lastErr = err
		} else if strings.TrimSpace(w.Analysis) == "" {
			lastErr = fmt.Errorf("%w: answer has no analysis", extract.ErrParse)
		} else {
			answer := f.toAnswer(st, &w, successes)
			telemetry.EndSpan(span, nil)
			f.log.Info("final answer composed", map[string]any{
				"session_id": st.SessionID(),
				"sources":    len(answer.Sources),
			})
			return answer, nil
		}

		f.log.Warn("final answer not parseable", map[string]any{
			"session_id": st.SessionID(),
			"attempt":    attempt,
			"error":      lastErr.Error(),
		})
	}

	err := fmt.Errorf("finalizer: no valid answer in %d attempts: %w", f.maxRetries, lastErr)
	telemetry.EndSpan(span, err)
	return nil, err
}

// toAnswer maps the wire form onto FinalAnswer, keeping only citations
// backed by the execution history.
func (f *Finalizer) toAnswer(st *state.State, w *wireAnswer, successes []plan.StepResult) *state.FinalAnswer {
	known := knownSources(st)

	var cited []plan.Source
	for _, s := range w.Sources {
		doc := strings.TrimSpace(s.Document)
		if doc == "" {
			continue
		}
		if _, ok := known[strings.ToLower(doc)]; !ok {
			f.log.Warn("dropping citation not backed by history", map[string]any{
				"session_id": st.SessionID(),
				"document":   doc,
			})
			continue
		}
		cited = append(cited, plan.Source{DocumentName: doc, Locator: strings.TrimSpace(s.Locator)})
	}

	if len(cited) == 0 {
		for _, res := range successes {
			if res.Source != nil && res.Source.DocumentName != "" {
				cited = append(cited, *res.Source)
			}
		}
	}

	return &state.FinalAnswer{
		Analysis:        strings.TrimSpace(w.Analysis),
		Sources:         dedupe(cited),
		Limitations:     strings.TrimSpace(w.Limitations),
		Recommendations: strings.TrimSpace(w.Recommendations),
	}
}

// knownSources indexes every document named by any history entry, judged
// or not. Partial and failed steps still ground a citation to a document
// the session genuinely touched.
func knownSources(st *state.State) map[string]plan.Source {
	known := make(map[string]plan.Source)
	for _, e := range st.History() {
		if src := e.Result.Source; src != nil && src.DocumentName != "" {
			known[strings.ToLower(src.DocumentName)] = *src
		}
	}
	return known
}

func dedupe(sources []plan.Source) []plan.Source {
	seen := make(map[string]bool, len(sources))
	out := sources[:0:0]
	for _, s := range sources {
		key := strings.ToLower(s.DocumentName) + "|" + strings.ToLower(s.Locator)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
