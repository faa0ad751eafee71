package plan

import "strconv"

// ResultStatus classifies the outcome of one executed step.
type ResultStatus string

const (
	ResultSuccess  ResultStatus = "success"
	ResultPartial  ResultStatus = "partial"
	ResultNotFound ResultStatus = "not_found"
	ResultError    ResultStatus = "error"
)

// IsValid reports whether s is one of the four recognized outcomes.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultSuccess, ResultPartial, ResultNotFound, ResultError:
		return true
	}
	return false
}

// Source identifies where a retrieved fact came from.
type Source struct {
	DocumentName string `json:"document_name" yaml:"document_name"`
	Locator      string `json:"locator,omitempty" yaml:"locator,omitempty"`
}

func (s Source) String() string {
	if s.Locator == "" {
		return s.DocumentName
	}
	return s.DocumentName + ", " + s.Locator
}

// StructuredOutput is the machine-readable fact a successful step extracts.
type StructuredOutput struct {
	Entity          string `json:"entity,omitempty" yaml:"entity,omitempty"`
	Value           string `json:"value,omitempty" yaml:"value,omitempty"`
	Units           string `json:"units,omitempty" yaml:"units,omitempty"`
	VariableName    string `json:"variable_name,omitempty" yaml:"variable_name,omitempty"`
	SourceReference string `json:"source_reference,omitempty" yaml:"source_reference,omitempty"`
	Conditions      string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Empty reports whether no field is set.
func (o StructuredOutput) Empty() bool {
	return o == (StructuredOutput{})
}

// StepResult wraps the raw outcome of one tool invocation. Produced once
// per executed step and immutable afterwards.
type StepResult struct {
	StepNumber       int               `json:"step_number" yaml:"step_number"`
	Status           ResultStatus      `json:"status" yaml:"status"`
	Source           *Source           `json:"source,omitempty" yaml:"source,omitempty"`
	StructuredOutput *StructuredOutput `json:"structured_output,omitempty" yaml:"structured_output,omitempty"`
	Summary          string            `json:"result_summary,omitempty" yaml:"result_summary,omitempty"`
	Error            string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// ResultKey returns the state key a result is stored under ("step_3").
func ResultKey(stepNumber int) string {
	return "step_" + strconv.Itoa(stepNumber)
}
