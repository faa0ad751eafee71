package plan

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan marks a plan or step that fails structural validation.
// A plan that stays invalid after one replanning attempt escalates to
// human review.
var ErrInvalidPlan = errors.New("invalid plan")

// Validate checks structural consistency: a non-empty goal, at least one
// step reachable from index 0, recognized tools, unique monotonic step
// numbers, and tool-specific required parameters.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	if p.Goal == "" {
		return fmt.Errorf("%w: empty goal", ErrInvalidPlan)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex > len(p.Steps) {
		return fmt.Errorf("%w: step index %d out of range [0,%d]", ErrInvalidPlan, p.CurrentStepIndex, len(p.Steps))
	}
	prev := 0
	for i := range p.Steps {
		if err := p.Steps[i].validate(); err != nil {
			return err
		}
		if p.Steps[i].Number <= prev {
			return fmt.Errorf("%w: step numbers must be unique and increasing, got %d after %d", ErrInvalidPlan, p.Steps[i].Number, prev)
		}
		prev = p.Steps[i].Number
	}
	return nil
}

func (s *Step) validate() error {
	if !s.Tool.IsValid() {
		return fmt.Errorf("%w: step %d names unknown tool %q", ErrInvalidPlan, s.Number, s.Tool)
	}
	if s.Action == "" {
		return fmt.Errorf("%w: step %d has no action", ErrInvalidPlan, s.Number)
	}
	switch s.Tool {
	case ToolSearch:
		if len(s.SemanticKeywords) == 0 {
			return fmt.Errorf("%w: search step %d has no keywords", ErrInvalidPlan, s.Number)
		}
	case ToolCalculate:
		if s.Expression == "" {
			return fmt.Errorf("%w: calculate step %d has no expression", ErrInvalidPlan, s.Number)
		}
		if s.OutputVariable == "" {
			return fmt.Errorf("%w: calculate step %d has no output variable", ErrInvalidPlan, s.Number)
		}
	}
	if s.Status == "" {
		s.Status = StepPending
	}
	return nil
}

// Normalize fills defaults after YAML decoding: pending status and
// sequential numbers when the model omitted them.
func (p *Plan) Normalize() {
	for i := range p.Steps {
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = StepPending
		}
		if p.Steps[i].Number == 0 {
			p.Steps[i].Number = i + 1
		}
	}
}
