package state

// Status is the session's lifecycle phase. Exactly one holder, the
// execution state, owns it; every stage transition updates it before
// control passes onward.
type Status string

const (
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusJudging     Status = "judging"
	StatusFinalizing  Status = "finalizing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusHumanReview Status = "human_review"
)

// Terminal reports whether no further automated transition may occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusHumanReview:
		return true
	}
	return false
}

// transitions is the closed edge set of the session state machine.
// Judging is the sole decision point; error is reachable from anywhere.
var transitions = map[Status][]Status{
	StatusPlanning:   {StatusExecuting, StatusHumanReview, StatusError},
	StatusExecuting:  {StatusJudging, StatusHumanReview, StatusError},
	StatusJudging:    {StatusExecuting, StatusPlanning, StatusFinalizing, StatusHumanReview, StatusError},
	StatusFinalizing: {StatusCompleted, StatusHumanReview, StatusError},
}

// CanTransitionTo reports whether s → next is a legal edge.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}
