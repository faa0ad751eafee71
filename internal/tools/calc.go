package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/normagent/normagent/internal/guard"
	"github.com/normagent/normagent/internal/plan"
)

// stepRefRe matches references to earlier results, e.g.
// {step_2.structured_output.value}.
var stepRefRe = regexp.MustCompile(`^\{(step_\d+)\.structured_output\.(\w+)\}$`)

// numberRe pulls the first numeric literal out of text like "20 mm" or
// "0,35 МПа". Comma decimals are common in the corpus.
var numberRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// CalcTool evaluates a step's arithmetic expression over its input
// variables. Only the fixed math vocabulary below is available to
// expressions; everything else fails compilation.
type CalcTool struct{}

// NewCalcTool returns the calculation tool.
func NewCalcTool() *CalcTool { return &CalcTool{} }

// Name implements Tool.
func (t *CalcTool) Name() plan.Tool { return plan.ToolCalculate }

// mathEnv is the closed function set exposed to expressions. abs, min,
// max, floor, ceil and round come from the evaluator's builtins.
func mathEnv() map[string]any {
	return map[string]any{
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"sqrt":  math.Sqrt,
		"log":   math.Log,
		"log10": math.Log10,
		"exp":   math.Exp,
		"pow":   math.Pow,
		"pi":    math.Pi,
		"e":     math.E,
	}
}

// Run resolves input variables (dereferencing step references through
// look), evaluates the expression, and wraps the numeric result.
func (t *CalcTool) Run(ctx context.Context, step plan.Step, look Lookup) (plan.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return plan.StepResult{}, err
	}

	env := mathEnv()
	var resolved []string
	for name, raw := range step.InputVariables {
		val, err := resolveValue(raw, look)
		if err != nil {
			return plan.StepResult{}, fmt.Errorf("%w: variable %s: %v", guard.ErrToolFailure, name, err)
		}
		env[name] = val
		resolved = append(resolved, fmt.Sprintf("%s = %g", name, val))
	}

	program, err := expr.Compile(step.Expression, expr.Env(env))
	if err != nil {
		return plan.StepResult{}, fmt.Errorf("%w: compiling %q: %v", guard.ErrToolFailure, step.Expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return plan.StepResult{}, fmt.Errorf("%w: evaluating %q: %v", guard.ErrToolFailure, step.Expression, err)
	}

	result, err := toFloat(out)
	if err != nil {
		return plan.StepResult{}, fmt.Errorf("%w: %v", guard.ErrToolFailure, err)
	}

	outVar := step.OutputVariable
	if outVar == "" {
		outVar = "result"
	}
	summary := fmt.Sprintf("%s = %s = %g", outVar, step.Expression, result)
	if len(resolved) > 0 {
		summary += " (with " + strings.Join(resolved, ", ") + ")"
	}

	return plan.StepResult{
		StepNumber: step.Number,
		Status:     plan.ResultSuccess,
		StructuredOutput: &plan.StructuredOutput{
			Entity:       step.Action,
			Value:        strconv.FormatFloat(result, 'g', -1, 64),
			VariableName: outVar,
		},
		Summary: summary,
	}, nil
}

// resolveValue turns a raw input (a literal number, quantity text, or a
// step reference) into a float.
func resolveValue(raw string, look Lookup) (float64, error) {
	raw = strings.TrimSpace(raw)
	if m := stepRefRe.FindStringSubmatch(raw); m != nil {
		if look == nil {
			return 0, fmt.Errorf("reference %q with no state access", raw)
		}
		v, ok := look(m[1])
		if !ok {
			return 0, fmt.Errorf("reference %q points at missing result", raw)
		}
		res, ok := v.(plan.StepResult)
		if !ok {
			return 0, fmt.Errorf("reference %q resolved to %T, not a step result", raw, v)
		}
		if res.StructuredOutput == nil {
			return 0, fmt.Errorf("reference %q: step has no structured output", raw)
		}
		field, err := structuredField(res.StructuredOutput, m[2])
		if err != nil {
			return 0, fmt.Errorf("reference %q: %w", raw, err)
		}
		return parseNumber(field)
	}
	return parseNumber(raw)
}

func structuredField(o *plan.StructuredOutput, name string) (string, error) {
	switch name {
	case "value":
		return o.Value, nil
	case "entity":
		return o.Entity, nil
	case "units":
		return o.Units, nil
	case "variable_name":
		return o.VariableName, nil
	}
	return "", fmt.Errorf("unknown structured field %q", name)
}

// parseNumber extracts a float from quantity text, accepting comma
// decimals.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expression produced %T, not a number", v)
}
