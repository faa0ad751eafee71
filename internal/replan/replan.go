// Package replan revises the plan mid-session on a REPLAN verdict.
// Completed steps and their results are immutable; only the pending tail
// is replaced by freshly planned steps, renumbered to continue the
// sequence.
package replan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
)

// Planner produces replacement steps for the pending part of a plan.
// Satisfied by planner.Planner.
type Planner interface {
	ReplanSteps(ctx context.Context, query string, scratch state.Scratchpad, current *plan.Plan,
		history []state.HistoryEntry, instr decision.ReplanInstructions) (*plan.Plan, error)
}

type Replanner struct {
	planner Planner
	log     *logging.Logger
}

func New(p Planner, log *logging.Logger) *Replanner {
	if log == nil {
		log = logging.Nop()
	}
	return &Replanner{planner: p, log: log.WithComponent("replan")}
}

// Replan builds the revised plan for st according to the judge's
// instructions. It does not mutate st; the caller installs the returned
// plan.
func (r *Replanner) Replan(ctx context.Context, st *state.State, instr decision.ReplanInstructions) (*plan.Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "replan.replan",
		attribute.String("session.id", st.SessionID()),
		attribute.String("replan.strategy", string(instr.Strategy)),
	)

	current := st.Plan()
	if current == nil {
		err := errors.New("replan: no plan to revise")
		telemetry.EndSpan(span, err)
		return nil, err
	}

	scratch := st.Scratchpad()
	proposed, err := r.planner.ReplanSteps(ctx, st.Query(), scratch, current, st.History(), instr)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	merged := merge(current, proposed, scratch.StringSlice(state.KeyRejectedSources), instr.Details)
	if err := merged.Validate(); err != nil {
		err = fmt.Errorf("replan: merged plan invalid: %w", err)
		telemetry.EndSpan(span, err)
		return nil, err
	}

	telemetry.EndSpan(span, nil)
	r.log.Replanned(st.SessionID(), string(instr.Strategy), len(proposed.Steps))
	return merged, nil
}

// merge keeps the completed steps of current verbatim and appends the
// proposed steps after them, renumbered past the highest completed number.
// The cursor lands on the first new step.
func merge(current, proposed *plan.Plan, rejected []string, details string) *plan.Plan {
	var done []plan.Step
	maxDone := 0
	for _, s := range current.Steps {
		if s.Status == plan.StepDone {
			done = append(done, s)
			if s.Number > maxDone {
				maxDone = s.Number
			}
		}
	}

	merged := &plan.Plan{
		Goal:             strings.TrimSpace(proposed.Goal),
		Steps:            append([]plan.Step{}, done...),
		CurrentStepIndex: len(done),
	}
	if merged.Goal == "" {
		merged.Goal = current.Goal
	}

	next := maxDone + 1
	for _, s := range proposed.Steps {
		s.Number = next
		s.Status = plan.StepPending
		s.ExpectedDocuments = dropRejected(s.ExpectedDocuments, rejected, details)
		merged.Steps = append(merged.Steps, s)
		next++
	}
	return merged
}

// dropRejected removes documents the session has already rejected, unless
// the judge's instructions explicitly name them again.
func dropRejected(docs, rejected []string, details string) []string {
	if len(docs) == 0 || len(rejected) == 0 {
		return docs
	}
	lowerDetails := strings.ToLower(details)
	out := docs[:0:0]
	for _, d := range docs {
		if isRejected(d, rejected) && !strings.Contains(lowerDetails, strings.ToLower(strings.TrimSpace(d))) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func isRejected(doc string, rejected []string) bool {
	for _, r := range rejected {
		if strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(doc)) {
			return true
		}
	}
	return false
}
