package executor

import (
	"context"
	"strings"

	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

// wireExtraction is the YAML shape of a structured-value extraction.
type wireExtraction struct {
	Found           bool   `yaml:"found"`
	Entity          string `yaml:"entity"`
	Value           string `yaml:"value"`
	Units           string `yaml:"units"`
	SourceReference string `yaml:"source_reference"`
	Conditions      string `yaml:"conditions"`
}

// wireReasoning is the YAML shape of a reasoning step's outcome.
type wireReasoning struct {
	Summary          string `yaml:"summary"`
	StructuredOutput *struct {
		Entity          string `yaml:"entity"`
		Value           string `yaml:"value"`
		Units           string `yaml:"units"`
		SourceReference string `yaml:"source_reference"`
		Conditions      string `yaml:"conditions"`
	} `yaml:"structured_output"`
}

// extractStructured asks the model to pull the step's wanted value out of
// successful search results. A failed extraction downgrades the result to
// partial when the step declared an output variable; otherwise the raw
// hits stand on their own.
func (e *Executor) extractStructured(ctx context.Context, st *state.State, step plan.Step, res *plan.StepResult) {
	if e.provider == nil {
		return
	}

	req := llm.Request{
		System: extractSystemPrompt,
		Prompt: buildExtractPrompt(step, res.Summary),
	}

	for attempt := 1; attempt <= e.cfg.MaxToolRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		resp, err := e.provider.Generate(ctx, req)
		if err != nil {
			break
		}

		var w wireExtraction
		if err := extract.Decode(resp.Text, &w); err != nil {
			e.log.Warn("extraction output not parseable", map[string]any{
				"session_id": st.SessionID(),
				"step":       step.Number,
				"attempt":    attempt,
			})
			continue
		}

		if !w.Found || strings.TrimSpace(w.Value) == "" {
			break
		}
		res.StructuredOutput = &plan.StructuredOutput{
			Entity:          strings.TrimSpace(w.Entity),
			Value:           strings.TrimSpace(w.Value),
			Units:           strings.TrimSpace(w.Units),
			VariableName:    step.OutputVariable,
			SourceReference: strings.TrimSpace(w.SourceReference),
			Conditions:      strings.TrimSpace(w.Conditions),
		}
		return
	}

	if step.OutputVariable != "" {
		res.Status = plan.ResultPartial
		res.Summary += "\n(the wanted value was not extracted from these results)"
	}
}

// reason performs a step whose tool is neither search nor calculate: the
// model works over the accumulated findings. Parse exhaustion becomes an
// error result routed to the judge like any tool failure.
func (e *Executor) reason(ctx context.Context, st *state.State, step plan.Step) (plan.StepResult, error) {
	if e.provider == nil {
		return plan.StepResult{
			StepNumber: step.Number,
			Status:     plan.ResultError,
			Error:      "no provider configured for reasoning steps",
		}, nil
	}

	req := llm.Request{
		System: reasonSystemPrompt,
		Prompt: buildReasonPrompt(st, step),
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxToolRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return plan.StepResult{}, err
		}

		resp, err := e.provider.Generate(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		var w wireReasoning
		if err := extract.Decode(resp.Text, &w); err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(w.Summary) == "" {
			lastErr = extract.ErrParse
			continue
		}

		res := plan.StepResult{
			StepNumber: step.Number,
			Status:     plan.ResultSuccess,
			Summary:    strings.TrimSpace(w.Summary),
		}
		if o := w.StructuredOutput; o != nil && strings.TrimSpace(o.Value) != "" {
			res.StructuredOutput = &plan.StructuredOutput{
				Entity:          strings.TrimSpace(o.Entity),
				Value:           strings.TrimSpace(o.Value),
				Units:           strings.TrimSpace(o.Units),
				VariableName:    step.OutputVariable,
				SourceReference: strings.TrimSpace(o.SourceReference),
				Conditions:      strings.TrimSpace(o.Conditions),
			}
		}
		return res, nil
	}

	return plan.StepResult{
		StepNumber: step.Number,
		Status:     plan.ResultError,
		Error:      "reasoning step produced no usable output: " + lastErr.Error(),
	}, nil
}
