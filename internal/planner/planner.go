// Package planner turns a question into a validated plan, and produces
// replacement steps during replanning. Model output is YAML, decoded and
// validated with bounded retries before anything reaches the state.
package planner

import (
	"context"
	"fmt"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

// Planner builds and rebuilds plans through the language model.
type Planner struct {
	provider   llm.Provider
	log        *logging.Logger
	maxRetries int
}

// New creates a planner. maxRetries bounds re-prompts after parse or
// validation failures; at least one attempt always runs.
func New(provider llm.Provider, log *logging.Logger, maxRetries int) *Planner {
	if log == nil {
		log = logging.Nop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Planner{provider: provider, log: log.WithComponent("planner"), maxRetries: maxRetries}
}

// planDoc is the YAML wire shape the model responds with.
type planDoc struct {
	Goal  string      `yaml:"goal"`
	Steps []plan.Step `yaml:"steps"`
}

// Initial produces the first plan for a query.
func (p *Planner) Initial(ctx context.Context, query string, scratch state.Scratchpad) (*plan.Plan, error) {
	return p.generate(ctx, buildInitialPrompt(query, scratch))
}

// ReplanSteps produces replacement steps for the remaining work. The
// returned plan carries the (possibly restated) goal and only new steps;
// merging with completed work is the replanner's job.
func (p *Planner) ReplanSteps(ctx context.Context, query string, scratch state.Scratchpad, current *plan.Plan, history []state.HistoryEntry, instr decision.ReplanInstructions) (*plan.Plan, error) {
	return p.generate(ctx, buildReplanPrompt(query, scratch, current, history, instr))
}

func (p *Planner) generate(ctx context.Context, prompt string) (*plan.Plan, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := p.provider.Generate(ctx, llm.Request{System: systemPrompt, Prompt: prompt})
		if err != nil {
			return nil, fmt.Errorf("planning call failed: %w", err)
		}

		var doc planDoc
		if err := extract.Decode(resp.Text, &doc); err != nil {
			lastErr = err
			p.log.Warn("plan output did not parse", map[string]any{"attempt": attempt + 1, "error": err.Error()})
			continue
		}

		built := &plan.Plan{Goal: doc.Goal, Steps: doc.Steps}
		built.Normalize()
		if err := built.Validate(); err != nil {
			lastErr = err
			p.log.Warn("plan failed validation", map[string]any{"attempt": attempt + 1, "error": err.Error()})
			continue
		}

		p.log.Info("plan built", map[string]any{"goal": built.Goal, "steps": len(built.Steps)})
		return built, nil
	}
	return nil, fmt.Errorf("no valid plan after %d attempts: %w", p.maxRetries+1, lastErr)
}
