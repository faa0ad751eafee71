// Package decision defines the judge's verdict vocabulary and the decision
// record routed by the orchestrator. Verdicts, strategies, and statuses are
// closed enumerations so illegal values are rejected at the parse boundary.
package decision

import (
	"fmt"
	"strings"
)

// Verdict is the judge's control-flow decision after a completed step.
type Verdict string

const (
	// VerdictContinue proceeds to the next pending plan step.
	VerdictContinue Verdict = "CONTINUE"
	// VerdictReplan hands the remaining plan to the replanner.
	VerdictReplan Verdict = "REPLAN"
	// VerdictFinalize ends the session with a grounded answer.
	VerdictFinalize Verdict = "FINALIZE"
	// VerdictHumanReview escalates the frozen session to an operator.
	VerdictHumanReview Verdict = "HUMAN_REVIEW"
)

// IsValid reports whether v is one of the four verdicts.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictContinue, VerdictReplan, VerdictFinalize, VerdictHumanReview:
		return true
	}
	return false
}

// ParseVerdict converts model output into a Verdict. The original system
// also emitted REQUEST_HUMAN_REVIEW; both spellings map to HUMAN_REVIEW.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if v == "REQUEST_HUMAN_REVIEW" {
		v = VerdictHumanReview
	}
	if !v.IsValid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

// Strategy names a fixed approach for altering the remaining plan.
type Strategy string

const (
	// StrategyRefineSearch narrows the search to higher-priority documents.
	StrategyRefineSearch Strategy = "REFINE_AND_RESTRICT_SEARCH"
	// StrategyChangeKeywords retries retrieval with different terminology.
	StrategyChangeKeywords Strategy = "CHANGE_KEYWORDS"
	// StrategyNewHypothesis reframes which documents should hold the answer.
	StrategyNewHypothesis Strategy = "FORM_NEW_HYPOTHESIS"
	// StrategyCalculationStep injects a calculate step over gathered data.
	StrategyCalculationStep Strategy = "FORM_CALCULATION_STEP"
)

// IsValid reports whether s is a recognized strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyRefineSearch, StrategyChangeKeywords, StrategyNewHypothesis, StrategyCalculationStep:
		return true
	}
	return false
}

// ParseStrategy converts model output into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown replan strategy %q", s)
	}
	return st, nil
}

// Scores carries the judge's two quality signals, both in [0,1].
type Scores struct {
	SourceRelevance    float64 `json:"source_relevance" yaml:"source_relevance"`
	ContextConsistency float64 `json:"context_consistency" yaml:"context_consistency"`
}

// ReplanInstructions tells the replanner how to alter the remaining plan.
type ReplanInstructions struct {
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Details  string   `json:"details,omitempty" yaml:"details,omitempty"`
}

// Decision is the judge's full output for one judged step.
type Decision struct {
	Verdict              Verdict             `json:"verdict" yaml:"verdict"`
	Reasoning            string              `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Scores               Scores              `json:"scores" yaml:"scores"`
	ContradictionDetails string              `json:"contradiction_details,omitempty" yaml:"contradiction_details,omitempty"`
	IsLoopDetected       bool                `json:"is_loop_detected" yaml:"is_loop_detected"`
	ReplanInstructions   *ReplanInstructions `json:"replan_instructions,omitempty" yaml:"replan_instructions,omitempty"`
	ScratchpadUpdate     map[string]any      `json:"scratchpad_update,omitempty" yaml:"scratchpad_update,omitempty"`
	HumanReviewReason    string              `json:"human_review_reason,omitempty" yaml:"human_review_reason,omitempty"`
}

// Validate enforces the decision schema: a legal verdict, scores in range,
// and the fields its verdict requires.
func (d *Decision) Validate() error {
	if d == nil {
		return fmt.Errorf("nil decision")
	}
	if !d.Verdict.IsValid() {
		return fmt.Errorf("verdict %q is not one of CONTINUE, REPLAN, FINALIZE, HUMAN_REVIEW", d.Verdict)
	}
	if d.Scores.SourceRelevance < 0 || d.Scores.SourceRelevance > 1 {
		return fmt.Errorf("source_relevance %v outside [0,1]", d.Scores.SourceRelevance)
	}
	if d.Scores.ContextConsistency < 0 || d.Scores.ContextConsistency > 1 {
		return fmt.Errorf("context_consistency %v outside [0,1]", d.Scores.ContextConsistency)
	}
	if d.Verdict == VerdictReplan {
		if d.ReplanInstructions == nil {
			return fmt.Errorf("REPLAN verdict requires replan_instructions")
		}
		if !d.ReplanInstructions.Strategy.IsValid() {
			return fmt.Errorf("replan strategy %q is not recognized", d.ReplanInstructions.Strategy)
		}
	}
	if d.Verdict == VerdictHumanReview && d.HumanReviewReason == "" {
		return fmt.Errorf("HUMAN_REVIEW verdict requires human_review_reason")
	}
	return nil
}
