// Package orchestrator drives one question-answering session end to end:
// plan, dispatch a step, judge the outcome, then continue, replan,
// finalize, or escalate, until the session reaches a terminal status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
)

// Planner builds the initial plan for a query.
type Planner interface {
	Initial(ctx context.Context, query string, scratch state.Scratchpad) (*plan.Plan, error)
}

// Dispatcher executes the plan's current step and records the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, st *state.State) (plan.StepResult, error)
}

// Judge issues the verdict for the latest step result.
type Judge interface {
	Decide(ctx context.Context, st *state.State, res plan.StepResult) (*decision.Decision, error)
}

// Replanner revises the plan according to the judge's instructions.
type Replanner interface {
	Replan(ctx context.Context, st *state.State, instr decision.ReplanInstructions) (*plan.Plan, error)
}

// Finalizer composes the final answer from the accumulated results.
type Finalizer interface {
	Finalize(ctx context.Context, st *state.State) (*state.FinalAnswer, error)
}

// Escalator hands the session to a human and freezes it.
type Escalator interface {
	Escalate(ctx context.Context, st *state.State, reason string) error
}

// Archiver persists state snapshots along the way. Satisfied by
// checkpoint.Store.
type Archiver interface {
	Save(state.Snapshot) error
}

type Orchestrator struct {
	planner   Planner
	executor  Dispatcher
	judge     Judge
	replanner Replanner
	finalizer Finalizer
	gate      Escalator
	archive   Archiver
	log       *logging.Logger

	// Callbacks for observers such as the session event log. All optional.
	OnSessionStart func(sessionID, query string)
	OnStatusChange func(sessionID string, from, to state.Status)
	OnPlan         func(sessionID string, p *plan.Plan)
	OnStepResult   func(sessionID string, step plan.Step, res plan.StepResult)
	OnDecision     func(sessionID string, d *decision.Decision)
	OnReplanned    func(sessionID string, p *plan.Plan)
}

// New wires an orchestrator. archive may be nil; everything else is
// required.
func New(planner Planner, executor Dispatcher, judge Judge, replanner Replanner,
	finalizer Finalizer, gate Escalator, archive Archiver, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		planner:   planner,
		executor:  executor,
		judge:     judge,
		replanner: replanner,
		finalizer: finalizer,
		gate:      gate,
		archive:   archive,
		log:       log.WithComponent("orchestrator"),
	}
}

// Run answers one query. The returned state is terminal: completed with a
// final answer, frozen in human_review, or error. The error return is
// non-nil only for infrastructure failures and cancellation; verdict-driven
// outcomes, including escalation, are regular terminations.
func (o *Orchestrator) Run(ctx context.Context, query string) (*state.State, error) {
	st := state.New(query)
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.run",
		attribute.String("session.id", st.SessionID()),
	)

	if o.OnSessionStart != nil {
		o.OnSessionStart(st.SessionID(), query)
	}
	o.log.SessionStart(st.SessionID(), query)
	err := o.run(ctx, st)
	o.log.SessionEnd(st.SessionID(), string(st.Status()))

	o.checkpoint(st)
	telemetry.EndSpan(span, err)
	return st, err
}

func (o *Orchestrator) run(ctx context.Context, st *state.State) error {
	if err := o.buildPlan(ctx, st); err != nil || st.Status().Terminal() {
		return err
	}

	for !st.Status().Terminal() {
		if err := ctx.Err(); err != nil {
			o.escalate(st, "session cancelled: "+err.Error())
			return err
		}

		res, err := o.executor.Dispatch(ctx, st)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.escalate(st, "session cancelled mid-step: "+err.Error())
				return err
			}
			return o.infraFailure(st, fmt.Errorf("dispatch: %w", err))
		}
		if o.OnStepResult != nil {
			o.OnStepResult(st.SessionID(), mustStep(st, res.StepNumber), res)
		}

		if err := o.setStatus(st, state.StatusJudging); err != nil {
			return o.infraFailure(st, err)
		}

		d, err := o.judge.Decide(ctx, st, res)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.escalate(st, "session cancelled while judging: "+err.Error())
				return err
			}
			return o.infraFailure(st, fmt.Errorf("judge: %w", err))
		}

		if err := st.RecordDecision(d); err != nil {
			return o.infraFailure(st, err)
		}
		if len(d.ScratchpadUpdate) > 0 {
			if err := st.MergeScratchpad(d.ScratchpadUpdate); err != nil {
				return o.infraFailure(st, err)
			}
		}
		if o.OnDecision != nil {
			o.OnDecision(st.SessionID(), d)
		}
		o.checkpoint(st)

		if err := o.route(ctx, st, d); err != nil || st.Status().Terminal() {
			return err
		}
	}
	return nil
}

// buildPlan runs the planning stage. Plans that stay invalid after the
// planner's bounded retries escalate; a dead provider is an infrastructure
// failure.
func (o *Orchestrator) buildPlan(ctx context.Context, st *state.State) error {
	p, err := o.planner.Initial(ctx, st.Query(), st.Scratchpad())
	if err != nil {
		if errors.Is(err, extract.ErrParse) || errors.Is(err, plan.ErrInvalidPlan) {
			o.escalate(st, "no valid plan: "+err.Error())
			return nil
		}
		return o.infraFailure(st, fmt.Errorf("planning: %w", err))
	}
	if err := st.SetPlan(p); err != nil {
		return o.infraFailure(st, err)
	}
	if o.OnPlan != nil {
		o.OnPlan(st.SessionID(), p)
	}
	o.checkpoint(st)
	return o.setStatus(st, state.StatusExecuting)
}

// route acts on the verdict. Judging is the only state that fans out.
func (o *Orchestrator) route(ctx context.Context, st *state.State, d *decision.Decision) error {
	switch d.Verdict {
	case decision.VerdictContinue:
		if _, ok := st.CurrentStep(); !ok {
			// Nothing left to dispatch; treat the plan as answered.
			o.log.Warn("continue verdict on an exhausted plan", map[string]any{
				"session_id": st.SessionID(),
			})
			return o.finalize(ctx, st)
		}
		return o.setStatus(st, state.StatusExecuting)

	case decision.VerdictReplan:
		return o.replan(ctx, st, d)

	case decision.VerdictFinalize:
		return o.finalize(ctx, st)

	case decision.VerdictHumanReview:
		o.escalate(st, d.HumanReviewReason)
		return nil

	default:
		return o.infraFailure(st, fmt.Errorf("unroutable verdict %q", d.Verdict))
	}
}

func (o *Orchestrator) replan(ctx context.Context, st *state.State, d *decision.Decision) error {
	if err := o.setStatus(st, state.StatusPlanning); err != nil {
		return o.infraFailure(st, err)
	}

	instr := decision.ReplanInstructions{Strategy: decision.StrategyChangeKeywords}
	if d.ReplanInstructions != nil {
		instr = *d.ReplanInstructions
	}

	p, err := o.replanner.Replan(ctx, st, instr)
	if err != nil {
		if errors.Is(err, extract.ErrParse) || errors.Is(err, plan.ErrInvalidPlan) {
			o.escalate(st, "replanning produced no valid plan: "+err.Error())
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.escalate(st, "session cancelled while replanning: "+err.Error())
			return err
		}
		return o.infraFailure(st, fmt.Errorf("replanning: %w", err))
	}
	if err := st.SetPlan(p); err != nil {
		o.escalate(st, "revised plan rejected: "+err.Error())
		return nil
	}
	if o.OnReplanned != nil {
		o.OnReplanned(st.SessionID(), p)
	}
	o.checkpoint(st)
	return o.setStatus(st, state.StatusExecuting)
}

func (o *Orchestrator) finalize(ctx context.Context, st *state.State) error {
	if err := o.setStatus(st, state.StatusFinalizing); err != nil {
		return o.infraFailure(st, err)
	}

	answer, err := o.finalizer.Finalize(ctx, st)
	if err != nil {
		if errors.Is(err, extract.ErrParse) {
			o.escalate(st, "final answer could not be composed: "+err.Error())
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.escalate(st, "session cancelled while finalizing: "+err.Error())
			return err
		}
		return o.infraFailure(st, fmt.Errorf("finalizing: %w", err))
	}
	if err := st.SetFinalAnswer(answer); err != nil {
		return o.infraFailure(st, err)
	}
	return o.setStatus(st, state.StatusCompleted)
}

// escalate never returns an error: the gate freezes the state even when
// persisting or notifying fails, and a terminal frozen session is exactly
// what the caller observes.
func (o *Orchestrator) escalate(st *state.State, reason string) {
	if err := o.gate.Escalate(context.WithoutCancel(context.Background()), st, reason); err != nil {
		o.log.Error("escalation incomplete", map[string]any{
			"session_id": st.SessionID(),
			"error":      err.Error(),
		})
	}
}

// infraFailure marks the session failed. No final answer is produced.
func (o *Orchestrator) infraFailure(st *state.State, cause error) error {
	if err := st.SetError(cause.Error()); err != nil {
		o.log.Error("failure not recorded", map[string]any{
			"session_id": st.SessionID(),
			"error":      err.Error(),
		})
	}
	if err := o.setStatus(st, state.StatusError); err != nil {
		o.log.Error("error status not set", map[string]any{
			"session_id": st.SessionID(),
			"error":      err.Error(),
		})
	}
	return cause
}

func (o *Orchestrator) setStatus(st *state.State, next state.Status) error {
	from := st.Status()
	if err := st.SetStatus(next); err != nil {
		return err
	}
	o.log.StatusChange(st.SessionID(), string(from), string(next))
	if o.OnStatusChange != nil {
		o.OnStatusChange(st.SessionID(), from, next)
	}
	return nil
}

func (o *Orchestrator) checkpoint(st *state.State) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Save(st.Snapshot()); err != nil {
		o.log.Warn("checkpoint not saved", map[string]any{
			"session_id": st.SessionID(),
			"error":      err.Error(),
		})
	}
}

// mustStep finds the executed step for a result in the history; the
// dispatcher has always appended it by the time callbacks fire.
func mustStep(st *state.State, stepNumber int) plan.Step {
	h := st.History()
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Step.Number == stepNumber {
			return h[i].Step
		}
	}
	return plan.Step{Number: stepNumber}
}
