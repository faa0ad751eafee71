package state

import (
	"errors"
	"time"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
)

// HistoryEntry is the append-only audit record of one dispatcher
// invocation. The step snapshot and result never change after append; the
// judge's decision is attached exactly once when the entry is judged.
type HistoryEntry struct {
	Step      plan.Step          `json:"step"`
	Result    plan.StepResult    `json:"result"`
	Decision  *decision.Decision `json:"decision,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// AppendHistory appends an entry in strict execution order.
func (s *State) AppendHistory(e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.history = append(s.history, e)
	s.updatedAt = time.Now()
	return nil
}

// RecordDecision attaches the judge's decision to the newest history
// entry. Attaching twice, or before any entry exists, is a sequencing bug.
func (s *State) RecordDecision(d *decision.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if len(s.history) == 0 {
		return errors.New("no history entry to attach decision to")
	}
	last := &s.history[len(s.history)-1]
	if last.Decision != nil {
		return errors.New("newest history entry already judged")
	}
	last.Decision = d
	s.updatedAt = time.Now()
	return nil
}

// History returns a copy of the full execution history.
func (s *State) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen returns the number of dispatcher invocations so far. The
// budget guard compares this against the session ceiling.
func (s *State) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// LastK returns up to k newest history entries, oldest first.
func (s *State) LastK(k int) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.history) == 0 {
		return nil
	}
	start := len(s.history) - k
	if start < 0 {
		start = 0
	}
	out := make([]HistoryEntry, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// LastResult returns the newest step result, if any step has run.
func (s *State) LastResult() (plan.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return plan.StepResult{}, false
	}
	return s.history[len(s.history)-1].Result, true
}

// LoopCount counts judged entries where a loop was detected. The judge
// escalates on the second loop in a session.
func (s *State) LoopCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.history {
		if d := s.history[i].Decision; d != nil && d.IsLoopDetected {
			n++
		}
	}
	return n
}

// UsedStrategies lists replan strategies already ordered this session, in
// order of use. Loop recovery must pick one not in this list.
func (s *State) UsedStrategies() []decision.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []decision.Strategy
	for i := range s.history {
		d := s.history[i].Decision
		if d != nil && d.ReplanInstructions != nil {
			out = append(out, d.ReplanInstructions.Strategy)
		}
	}
	return out
}

// ReplanCount counts REPLAN verdicts issued this session.
func (s *State) ReplanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.history {
		if d := s.history[i].Decision; d != nil && d.Verdict == decision.VerdictReplan {
			n++
		}
	}
	return n
}

// SuccessfulResults returns the results of steps that completed with
// success status, in execution order. The finalizer consumes only these.
func (s *State) SuccessfulResults() []plan.StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []plan.StepResult
	for i := range s.history {
		if s.history[i].Result.Status == plan.ResultSuccess {
			out = append(out, s.history[i].Result)
		}
	}
	return out
}
