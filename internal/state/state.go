// Package state holds the single mutable execution record threaded through
// every stage of a session. All mutation goes through its methods, which is
// the single-writer boundary: the currently active stage mutates, applies
// fully, and only then hands control onward. Nothing here is shared across
// sessions.
package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normagent/normagent/internal/plan"
)

// ErrFrozen is returned by every mutator after the escalation gate has
// frozen the session for human review.
var ErrFrozen = errors.New("execution state is frozen for human review")

// FinalAnswer is the terminal output of a completed session. Sources are
// drawn only from step results actually present in history.
type FinalAnswer struct {
	Analysis        string        `json:"analysis" yaml:"analysis"`
	Sources         []plan.Source `json:"sources" yaml:"sources"`
	Limitations     string        `json:"limitations,omitempty" yaml:"limitations,omitempty"`
	Recommendations string        `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// State is the execution record for one query session.
type State struct {
	mu     sync.RWMutex
	frozen bool

	sessionID string
	query     string
	status    Status
	plan      *plan.Plan
	scratch   Scratchpad
	history   []HistoryEntry
	results   map[string]plan.StepResult

	answer       *FinalAnswer
	lastError    string
	reviewReason string

	createdAt time.Time
	updatedAt time.Time
}

// New creates the execution state for a fresh session.
func New(query string) *State {
	now := time.Now()
	return &State{
		sessionID: uuid.New().String(),
		query:     query,
		status:    StatusPlanning,
		scratch:   Scratchpad{},
		results:   make(map[string]plan.StepResult),
		createdAt: now,
		updatedAt: now,
	}
}

// SessionID returns the immutable session identifier.
func (s *State) SessionID() string { return s.sessionID }

// Query returns the immutable user question.
func (s *State) Query() string { return s.query }

// Status returns the current lifecycle phase.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus transitions the session phase. Illegal edges are rejected so a
// stage bug cannot, for example, resurrect a completed session.
func (s *State) SetStatus(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if !s.status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s", s.status, next)
	}
	s.status = next
	s.updatedAt = time.Now()
	return nil
}

// SetPlan installs a validated plan. Used at initial planning and after
// every replan; the plan must already honor the cursor invariant.
func (s *State) SetPlan(p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.plan = p
	s.updatedAt = time.Now()
	return nil
}

// Plan returns a deep copy of the current plan, or nil before planning.
func (s *State) Plan() *plan.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.Clone()
}

// CurrentStep returns a copy of the step under the cursor and true, or a
// zero step and false when the plan is nil or exhausted.
func (s *State) CurrentStep() (plan.Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return plan.Step{}, false
	}
	cur := s.plan.Current()
	if cur == nil {
		return plan.Step{}, false
	}
	return *cur, true
}

// AdvanceStep marks the current step done and moves the cursor to the next
// pending step or the exhausted position. Called only after a successful
// dispatch.
func (s *State) AdvanceStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if s.plan == nil {
		return errors.New("no plan to advance")
	}
	s.plan.Advance()
	s.updatedAt = time.Now()
	return nil
}

// SetResult stores a step result under its step_N key. A re-executed step
// overwrites its slot; the full attempt trail lives in the history.
func (s *State) SetResult(r plan.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("unrecognized result status %q", r.Status)
	}
	s.results[plan.ResultKey(r.StepNumber)] = r
	s.updatedAt = time.Now()
	return nil
}

// Result returns the stored result for a step number.
func (s *State) Result(stepNumber int) (plan.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[plan.ResultKey(stepNumber)]
	return r, ok
}

// SetFinalAnswer records the terminal answer. Single invocation per session.
func (s *State) SetFinalAnswer(a *FinalAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if s.answer != nil {
		return errors.New("final answer already set")
	}
	s.answer = a
	s.updatedAt = time.Now()
	return nil
}

// FinalAnswer returns the terminal answer, or nil.
func (s *State) FinalAnswer() *FinalAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answer
}

// SetError records an irrecoverable failure description.
func (s *State) SetError(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	s.lastError = msg
	s.updatedAt = time.Now()
	return nil
}

// SetReviewReason records why the session was escalated.
func (s *State) SetReviewReason(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	s.reviewReason = reason
	s.updatedAt = time.Now()
	return nil
}

// ReviewReason returns the recorded escalation reason.
func (s *State) ReviewReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reviewReason
}

// Freeze stops all further automated mutation. The escalation gate calls
// this before persisting the snapshot; there is no unfreeze.
func (s *State) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	s.updatedAt = time.Now()
}

// Frozen reports whether the escalation gate has sealed this session.
func (s *State) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Get resolves a dotted state path: "query", "status", "plan",
// "scratchpad", "scratchpad.<key>", "step_<n>", "final_answer", "error",
// "human_review_reason". Returns the value and whether the path resolved.
func (s *State) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch path {
	case "query", "user_query":
		return s.query, true
	case "status":
		return s.status, true
	case "plan":
		return s.plan.Clone(), s.plan != nil
	case "scratchpad":
		return s.scratch.Clone(), true
	case "final_answer":
		return s.answer, s.answer != nil
	case "error":
		return s.lastError, s.lastError != ""
	case "human_review_reason":
		return s.reviewReason, s.reviewReason != ""
	}
	if k, ok := strings.CutPrefix(path, "scratchpad."); ok {
		v, found := s.scratch[k]
		return v, found
	}
	if strings.HasPrefix(path, "step_") {
		r, found := s.results[path]
		return r, found
	}
	return nil, false
}
