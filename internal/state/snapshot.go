package state

import (
	"time"

	"github.com/normagent/normagent/internal/plan"
)

// Snapshot is a fully serializable copy of the execution state, used for
// checkpoints, the escalation freeze record, and prompt construction.
type Snapshot struct {
	SessionID         string                     `json:"session_id"`
	Query             string                     `json:"user_query"`
	Status            Status                     `json:"status"`
	Frozen            bool                       `json:"frozen,omitempty"`
	Plan              *plan.Plan                 `json:"plan,omitempty"`
	Scratchpad        Scratchpad                 `json:"scratchpad,omitempty"`
	History           []HistoryEntry             `json:"execution_history,omitempty"`
	StepResults       map[string]plan.StepResult `json:"step_results,omitempty"`
	FinalAnswer       *FinalAnswer               `json:"final_answer,omitempty"`
	Error             string                     `json:"error,omitempty"`
	HumanReviewReason string                     `json:"human_review_reason,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// Snapshot returns a copy of everything the session has accumulated.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]plan.StepResult, len(s.results))
	for k, v := range s.results {
		results[k] = v
	}
	history := make([]HistoryEntry, len(s.history))
	copy(history, s.history)

	return Snapshot{
		SessionID:         s.sessionID,
		Query:             s.query,
		Status:            s.status,
		Frozen:            s.frozen,
		Plan:              s.plan.Clone(),
		Scratchpad:        s.scratch.Clone(),
		History:           history,
		StepResults:       results,
		FinalAnswer:       s.answer,
		Error:             s.lastError,
		HumanReviewReason: s.reviewReason,
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.updatedAt,
	}
}
