// Package plan defines the task structure produced by planning and consumed
// by execution: an ordered sequence of steps with a cursor, plus the result
// record every executed step leaves behind.
package plan

import (
	"fmt"
	"strings"
)

// Tool identifies the executable capability a step invokes.
type Tool string

const (
	// ToolSearch queries the document corpus index.
	ToolSearch Tool = "search"
	// ToolCalculate evaluates a numeric expression over gathered values.
	ToolCalculate Tool = "calculate"
	// ToolOther is reasoning-only work with no external call.
	ToolOther Tool = "other"
)

// IsValid reports whether t is a recognized tool.
func (t Tool) IsValid() bool {
	switch t {
	case ToolSearch, ToolCalculate, ToolOther:
		return true
	}
	return false
}

// ParseTool converts free text from model output into a Tool.
// Unknown values are rejected at this boundary, not deep in dispatch.
func ParseTool(s string) (Tool, error) {
	t := Tool(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown tool %q", ErrInvalidPlan, s)
	}
	return t, nil
}

// StepStatus tracks whether a step has been executed.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepDone    StepStatus = "done"
)

// Step is one unit of work naming a tool and its parameters.
// A step is immutable once marked done.
type Step struct {
	Number    int        `json:"step_number" yaml:"step_number"`
	Action    string     `json:"action" yaml:"action"`
	Reasoning string     `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Tool      Tool       `json:"tool" yaml:"tool"`
	Status    StepStatus `json:"status" yaml:"status,omitempty"`

	// Search parameters.
	SemanticKeywords  []string `json:"semantic_keywords,omitempty" yaml:"semantic_keywords,omitempty"`
	ExpectedDocuments []string `json:"expected_documents,omitempty" yaml:"expected_documents,omitempty"`

	// Calculation parameters. InputVariables may reference earlier results
	// with the {step_N.structured_output.value} syntax.
	Expression     string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	InputVariables map[string]string `json:"input_variables,omitempty" yaml:"input_variables,omitempty"`
	OutputVariable string            `json:"output_variable,omitempty" yaml:"output_variable,omitempty"`

	ValidationCriteria string `json:"validation_criteria,omitempty" yaml:"validation_criteria,omitempty"`
}

// Signature returns the (tool, normalized parameters) identity of the step,
// used by loop detection to recognize repeated work.
func (s Step) Signature() string {
	var b strings.Builder
	b.WriteString(string(s.Tool))
	b.WriteByte('|')
	switch s.Tool {
	case ToolSearch:
		kw := make([]string, 0, len(s.SemanticKeywords))
		for _, k := range s.SemanticKeywords {
			kw = append(kw, strings.ToLower(strings.TrimSpace(k)))
		}
		b.WriteString(strings.Join(kw, ","))
	case ToolCalculate:
		b.WriteString(strings.ToLower(strings.Join(strings.Fields(s.Expression), "")))
	default:
		b.WriteString(strings.ToLower(strings.TrimSpace(s.Action)))
	}
	return b.String()
}

// Plan is an ordered sequence of steps toward a stated goal.
// CurrentStepIndex either indexes a pending step or equals len(Steps),
// meaning the plan is exhausted.
type Plan struct {
	Goal             string `json:"goal" yaml:"goal"`
	Steps            []Step `json:"steps" yaml:"steps"`
	CurrentStepIndex int    `json:"current_step_index" yaml:"current_step_index"`
}

// Exhausted reports whether no pending step remains at or after the cursor.
func (p *Plan) Exhausted() bool {
	return p.CurrentStepIndex >= len(p.Steps)
}

// Current returns the step under the cursor, or nil when exhausted.
func (p *Plan) Current() *Step {
	if p.Exhausted() {
		return nil
	}
	return &p.Steps[p.CurrentStepIndex]
}

// Advance marks the current step done and moves the cursor to the next
// pending step, or past the end when none remains.
func (p *Plan) Advance() {
	if p.Exhausted() {
		return
	}
	p.Steps[p.CurrentStepIndex].Status = StepDone
	p.CurrentStepIndex++
	for !p.Exhausted() && p.Steps[p.CurrentStepIndex].Status == StepDone {
		p.CurrentStepIndex++
	}
}

// Remaining returns the steps after the cursor, excluding the current one.
// The judge receives these to assess whether the rest of the plan still
// serves the goal.
func (p *Plan) Remaining() []Step {
	if p.CurrentStepIndex+1 >= len(p.Steps) {
		return nil
	}
	out := make([]Step, len(p.Steps)-p.CurrentStepIndex-1)
	copy(out, p.Steps[p.CurrentStepIndex+1:])
	return out
}

// HasCalculation reports whether any step invokes the calculation tool.
func (p *Plan) HasCalculation() bool {
	for _, s := range p.Steps {
		if s.Tool == ToolCalculate {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Snapshots hand copies outward so no caller can
// mutate orchestrator-owned state.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := &Plan{Goal: p.Goal, CurrentStepIndex: p.CurrentStepIndex}
	cp.Steps = make([]Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	for i := range cp.Steps {
		cp.Steps[i].SemanticKeywords = append([]string(nil), p.Steps[i].SemanticKeywords...)
		cp.Steps[i].ExpectedDocuments = append([]string(nil), p.Steps[i].ExpectedDocuments...)
		if p.Steps[i].InputVariables != nil {
			iv := make(map[string]string, len(p.Steps[i].InputVariables))
			for k, v := range p.Steps[i].InputVariables {
				iv[k] = v
			}
			cp.Steps[i].InputVariables = iv
		}
	}
	return cp
}
