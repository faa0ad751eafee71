// Package judge decides, after every executed step, whether the session
// continues, replans, finalizes, or escalates to a human. The model
// proposes a verdict; a deterministic rule pass enforces the invariants
// the model is not trusted with (loops, completion, budget).
package judge

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/guard"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
)

// Config carries the tunables of the decision engine. Zero values fall
// back to the session defaults.
type Config struct {
	// LoopWindow is how many of the newest history entries are compared
	// for loop detection.
	LoopWindow int
	// MaxSteps caps dispatched steps per session; once reached every
	// verdict becomes HUMAN_REVIEW.
	MaxSteps int
	// RelevanceThreshold is the floor under which a CONTINUE verdict on a
	// successful step is converted into a replan.
	RelevanceThreshold float64
	// MaxParseRetries bounds how often an unparseable model response is
	// re-requested before the session escalates.
	MaxParseRetries int
}

func (c Config) withDefaults() Config {
	if c.LoopWindow <= 0 {
		c.LoopWindow = 3
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 20
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = 0.3
	}
	if c.MaxParseRetries <= 0 {
		c.MaxParseRetries = 3
	}
	return c
}

// loopRecovery is the strategy rotation for breaking a detected loop.
// FORM_CALCULATION_STEP is excluded: repeating a search is never fixed by
// adding arithmetic.
var loopRecovery = []decision.Strategy{
	decision.StrategyChangeKeywords,
	decision.StrategyRefineSearch,
	decision.StrategyNewHypothesis,
}

type Judge struct {
	provider llm.Provider
	cfg      Config
	log      *logging.Logger
}

func New(provider llm.Provider, cfg Config, log *logging.Logger) *Judge {
	if log == nil {
		log = logging.Nop()
	}
	return &Judge{
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      log.WithComponent("judge"),
	}
}

// Decide produces the verdict for the latest step result. The returned
// decision is always valid; an error means the provider itself failed.
//
// Decide never mutates st. The caller records the decision and the
// scratchpad update.
func (j *Judge) Decide(ctx context.Context, st *state.State, res plan.StepResult) (*decision.Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "judge.decide",
		attribute.String("session.id", st.SessionID()),
		attribute.Int("step.number", res.StepNumber),
	)

	d, err := j.candidate(ctx, st, res)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	d = j.enforce(st, res, d)
	if err := d.Validate(); err != nil {
		telemetry.EndSpan(span, err)
		return nil, fmt.Errorf("judge: enforced decision invalid: %w", err)
	}

	span.SetAttributes(attribute.String("judge.verdict", string(d.Verdict)))
	telemetry.EndSpan(span, nil)
	j.log.Verdict(st.SessionID(), string(d.Verdict),
		d.Scores.SourceRelevance, d.Scores.ContextConsistency, d.IsLoopDetected)
	return d, nil
}

// candidate asks the model for a verdict, retrying on unparseable output.
// Exhausting the retries escalates instead of guessing.
func (j *Judge) candidate(ctx context.Context, st *state.State, res plan.StepResult) (*decision.Decision, error) {
	req := llm.Request{
		System: systemPrompt,
		Prompt: buildJudgePrompt(st, res, j.cfg.LoopWindow),
	}

	var lastErr error
	for attempt := 1; attempt <= j.cfg.MaxParseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := j.provider.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("judge: provider: %w", err)
		}

		var w wireDecision
		if err := extract.Decode(resp.Text, &w); err != nil {
			lastErr = err
			j.log.Warn("judge output not parseable", map[string]any{
				"session_id": st.SessionID(),
				"attempt":    attempt,
				"error":      err.Error(),
			})
			continue
		}
		d, err := w.toDecision()
		if err != nil {
			lastErr = err
			j.log.Warn("judge output rejected", map[string]any{
				"session_id": st.SessionID(),
				"attempt":    attempt,
				"error":      err.Error(),
			})
			continue
		}
		return d, nil
	}

	return &decision.Decision{
		Verdict:   decision.VerdictHumanReview,
		Reasoning: "decision output stayed unparseable across retries",
		HumanReviewReason: fmt.Sprintf("judge produced no valid decision in %d attempts: %v",
			j.cfg.MaxParseRetries, lastErr),
	}, nil
}

// enforce applies the deterministic rules on top of the model's verdict.
// Order matters: result-status and consistency floors first, then loop
// handling, then the completion check, with the budget guard always last.
func (j *Judge) enforce(st *state.State, res plan.StepResult, d *decision.Decision) *decision.Decision {
	if d.Verdict == decision.VerdictFinalize &&
		(res.Status == plan.ResultError || res.Status == plan.ResultNotFound) {
		j.overrideReplan(d, decision.StrategyChangeKeywords,
			fmt.Sprintf("step %d ended with status %s; the answer cannot rest on it", res.StepNumber, res.Status),
			"finalize blocked: latest step produced no usable result")
	}

	if d.Verdict == decision.VerdictContinue && res.Status == plan.ResultSuccess &&
		d.Scores.SourceRelevance < j.cfg.RelevanceThreshold {
		j.overrideReplan(d, decision.StrategyRefineSearch,
			fmt.Sprintf("source relevance %.2f is below %.2f; narrow the search to the question's domain",
				d.Scores.SourceRelevance, j.cfg.RelevanceThreshold),
			"continue blocked: latest source is not relevant to the question")
	}

	if d.ContradictionDetails != "" &&
		(d.Verdict == decision.VerdictContinue || d.Verdict == decision.VerdictFinalize) {
		j.overrideReplan(d, decision.StrategyNewHypothesis,
			"resolve the contradiction: "+d.ContradictionDetails,
			"contradiction with accumulated facts must be resolved before proceeding")
	}

	if looped, sig := guard.DetectLoop(st.History(), j.cfg.LoopWindow); looped {
		d.IsLoopDetected = true
		if d.Verdict != decision.VerdictHumanReview {
			if st.LoopCount() > 0 {
				j.overrideHumanReview(d,
					fmt.Sprintf("loop repeated after a replan (%s); automated recovery exhausted", sig))
			} else {
				strat := guard.NextStrategy(loopRecovery, st.UsedStrategies())
				j.overrideReplan(d, strat,
					fmt.Sprintf("the last %d steps repeat %s; take a different approach", j.cfg.LoopWindow, sig),
					"loop detected in recent steps")
			}
		}
	}

	if d.Verdict == decision.VerdictFinalize && needsCalculation(st) {
		j.overrideReplan(d, decision.StrategyCalculationStep,
			"the plan declares a calculation but no calculation step has succeeded; form one from the extracted values",
			"finalize blocked: required calculation has not been performed")
	}

	if err := guard.CheckBudget(st.HistoryLen(), j.cfg.MaxSteps); err != nil {
		j.overrideHumanReview(d, err.Error())
	}

	return d
}

func (j *Judge) overrideReplan(d *decision.Decision, strat decision.Strategy, details, why string) {
	d.Verdict = decision.VerdictReplan
	d.Reasoning = why
	d.ReplanInstructions = &decision.ReplanInstructions{Strategy: strat, Details: details}
	d.HumanReviewReason = ""
}

func (j *Judge) overrideHumanReview(d *decision.Decision, reason string) {
	d.Verdict = decision.VerdictHumanReview
	d.Reasoning = reason
	d.ReplanInstructions = nil
	d.HumanReviewReason = reason
}

// needsCalculation reports whether the plan declares a calculation step
// that has not yet produced a successful result.
func needsCalculation(st *state.State) bool {
	p := st.Plan()
	if p == nil || !p.HasCalculation() {
		return false
	}
	for _, e := range st.History() {
		if e.Step.Tool == plan.ToolCalculate && e.Result.Status == plan.ResultSuccess {
			return false
		}
	}
	return true
}
