package judge

import (
	"fmt"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/state"
)

// wireDecision is the YAML shape the model responds with. Field names
// follow the prompt's schema; verdict is accepted under either key.
type wireDecision struct {
	Decision  string `yaml:"decision"`
	Verdict   string `yaml:"verdict"`
	Reasoning string `yaml:"reasoning"`

	StateAnalysis struct {
		SourceRelevance      float64 `yaml:"source_relevance"`
		ContextConsistency   float64 `yaml:"context_consistency"`
		ContradictionDetails string  `yaml:"contradiction_details"`
	} `yaml:"state_analysis"`

	ReplanInstructions *struct {
		Strategy string `yaml:"strategy"`
		Details  string `yaml:"details"`
	} `yaml:"replan_instructions"`

	HumanReviewRequest string `yaml:"human_review_request"`

	UpdatedScratchpad *struct {
		Action string         `yaml:"action"`
		Data   map[string]any `yaml:"data"`
		Remove []string       `yaml:"remove"`
	} `yaml:"updated_scratchpad"`
}

// toDecision validates the wire form into a Decision. Unknown enum values
// are parse failures so the retry loop can re-prompt.
func (w *wireDecision) toDecision() (*decision.Decision, error) {
	raw := w.Decision
	if raw == "" {
		raw = w.Verdict
	}
	verdict, err := decision.ParseVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrParse, err)
	}

	d := &decision.Decision{
		Verdict:   verdict,
		Reasoning: w.Reasoning,
		Scores: decision.Scores{
			SourceRelevance:    w.StateAnalysis.SourceRelevance,
			ContextConsistency: w.StateAnalysis.ContextConsistency,
		},
		ContradictionDetails: w.StateAnalysis.ContradictionDetails,
		HumanReviewReason:    w.HumanReviewRequest,
	}

	if w.ReplanInstructions != nil {
		strategy, err := decision.ParseStrategy(w.ReplanInstructions.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", extract.ErrParse, err)
		}
		d.ReplanInstructions = &decision.ReplanInstructions{
			Strategy: strategy,
			Details:  w.ReplanInstructions.Details,
		}
	}

	if w.UpdatedScratchpad != nil && w.UpdatedScratchpad.Action == "UPDATE" {
		update := make(map[string]any, len(w.UpdatedScratchpad.Data)+1)
		for k, v := range w.UpdatedScratchpad.Data {
			update[k] = v
		}
		if len(w.UpdatedScratchpad.Remove) > 0 {
			update[state.RemoveKey] = w.UpdatedScratchpad.Remove
		}
		if len(update) > 0 {
			d.ScratchpadUpdate = update
		}
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrParse, err)
	}
	return d, nil
}
