// Package executor dispatches the plan's current step to its tool and
// records the outcome. It makes no quality judgment; grading the result
// and routing the session belong to the judge.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
	"github.com/normagent/normagent/internal/tools"
)

// Config carries the dispatcher tunables.
type Config struct {
	// MaxToolRetries is how many times a failing tool invocation is retried
	// before the step surfaces an error result.
	MaxToolRetries int
	// ToolTimeout bounds a single tool invocation. A shorter deadline
	// already on the context wins.
	ToolTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxToolRetries <= 0 {
		c.MaxToolRetries = 2
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	return c
}

type Executor struct {
	registry *tools.Registry
	provider llm.Provider
	cfg      Config
	log      *logging.Logger
}

// New builds a dispatcher. The provider handles reasoning steps and
// structured extraction from search results; it may be nil in setups that
// only run search and calculate steps.
func New(registry *tools.Registry, provider llm.Provider, cfg Config, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.Nop()
	}
	return &Executor{
		registry: registry,
		provider: provider,
		cfg:      cfg.withDefaults(),
		log:      log.WithComponent("executor"),
	}
}

// Dispatch executes the step under the plan cursor and records the
// outcome: the result is stored under its step key, the history gains one
// entry, and the cursor advances only when the step succeeded.
//
// The returned error reports that the session cannot proceed (no pending
// step, frozen state, cancelled context). A failed step is a regular
// result with error status, not an error.
func (e *Executor) Dispatch(ctx context.Context, st *state.State) (plan.StepResult, error) {
	if st.Frozen() {
		return plan.StepResult{}, fmt.Errorf("executor: %w", state.ErrFrozen)
	}
	step, ok := st.CurrentStep()
	if !ok {
		return plan.StepResult{}, errors.New("executor: no pending step to dispatch")
	}

	ctx, span := telemetry.StartSpan(ctx, "executor.dispatch",
		attribute.String("session.id", st.SessionID()),
		attribute.Int("step.number", step.Number),
		attribute.String("step.tool", string(step.Tool)),
	)

	e.log.StepDispatch(st.SessionID(), step.Number, string(step.Tool), step.Action)
	start := time.Now()

	res, err := e.runStep(ctx, st, step)
	if err != nil {
		telemetry.EndSpan(span, err)
		return plan.StepResult{}, err
	}

	if err := e.record(st, step, res); err != nil {
		telemetry.EndSpan(span, err)
		return plan.StepResult{}, err
	}

	span.SetAttributes(attribute.String("step.status", string(res.Status)))
	telemetry.EndSpan(span, nil)
	e.log.StepOutcome(st.SessionID(), step.Number, string(res.Status), res.Summary)
	e.log.Debug("step timing", map[string]any{
		"session_id":  st.SessionID(),
		"step":        step.Number,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// runStep produces the step's result. Tool failures are retried up to the
// configured bound and then folded into an error result.
func (e *Executor) runStep(ctx context.Context, st *state.State, step plan.Step) (plan.StepResult, error) {
	if step.Tool == plan.ToolOther {
		return e.reason(ctx, st, step)
	}

	tool, err := e.registry.Resolve(step.Tool)
	if err != nil {
		return plan.StepResult{StepNumber: step.Number, Status: plan.ResultError, Error: err.Error()}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxToolRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return plan.StepResult{}, err
		}

		res, err := e.invoke(ctx, tool, step, st.Get)
		if err == nil {
			if step.Tool == plan.ToolSearch && res.Status == plan.ResultSuccess {
				e.extractStructured(ctx, st, step, &res)
			}
			return res, nil
		}
		lastErr = err
		e.log.Warn("tool invocation failed", map[string]any{
			"session_id": st.SessionID(),
			"step":       step.Number,
			"tool":       string(step.Tool),
			"attempt":    attempt,
			"error":      err.Error(),
		})
	}

	return plan.StepResult{
		StepNumber: step.Number,
		Status:     plan.ResultError,
		Error:      lastErr.Error(),
	}, nil
}

// invoke runs the tool under the per-call timeout, keeping a shorter
// caller deadline when one exists.
func (e *Executor) invoke(ctx context.Context, tool tools.Tool, step plan.Step, look tools.Lookup) (plan.StepResult, error) {
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > e.cfg.ToolTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
		defer cancel()
	}
	return tool.Run(ctx, step, look)
}

func (e *Executor) record(st *state.State, step plan.Step, res plan.StepResult) error {
	if err := st.SetResult(res); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := st.AppendHistory(state.HistoryEntry{Step: step, Result: res}); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if res.Status == plan.ResultSuccess {
		if err := st.AdvanceStep(); err != nil {
			return fmt.Errorf("executor: %w", err)
		}
	}
	return nil
}
