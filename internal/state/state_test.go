package state

import (
	"errors"
	"testing"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
)

func testPlan() *plan.Plan {
	return &plan.Plan{
		Goal: "find minimum concrete cover",
		Steps: []plan.Step{
			{Number: 1, Action: "search cover", Tool: plan.ToolSearch, Status: plan.StepPending, SemanticKeywords: []string{"cover"}},
			{Number: 2, Action: "search slab", Tool: plan.ToolSearch, Status: plan.StepPending, SemanticKeywords: []string{"slab"}},
		},
	}
}

func TestState_StatusTransitions(t *testing.T) {
	s := New("q")
	if s.Status() != StatusPlanning {
		t.Fatalf("new session should start planning, got %s", s.Status())
	}

	// The normal happy path.
	for _, next := range []Status{StatusExecuting, StatusJudging, StatusFinalizing, StatusCompleted} {
		if err := s.SetStatus(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	// Completed is terminal.
	if err := s.SetStatus(StatusExecuting); err == nil {
		t.Error("transition out of completed should be rejected")
	}
}

func TestState_IllegalTransitionRejected(t *testing.T) {
	s := New("q")
	if err := s.SetStatus(StatusFinalizing); err == nil {
		t.Error("planning -> finalizing should be rejected")
	}
	if s.Status() != StatusPlanning {
		t.Errorf("failed transition must not change status, got %s", s.Status())
	}
}

func TestState_AdvanceKeepsIndexValid(t *testing.T) {
	s := New("q")
	if err := s.SetPlan(testPlan()); err != nil {
		t.Fatalf("set plan: %v", err)
	}

	step, ok := s.CurrentStep()
	if !ok || step.Number != 1 {
		t.Fatalf("expected step 1, got %+v ok=%v", step, ok)
	}

	if err := s.AdvanceStep(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	step, ok = s.CurrentStep()
	if !ok || step.Number != 2 {
		t.Fatalf("expected step 2, got %+v ok=%v", step, ok)
	}

	if err := s.AdvanceStep(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, ok := s.CurrentStep(); ok {
		t.Error("plan should be exhausted")
	}

	// The cursor never references a done step.
	p := s.Plan()
	if p.CurrentStepIndex != len(p.Steps) {
		t.Errorf("exhausted cursor should equal len(steps), got %d", p.CurrentStepIndex)
	}
}

func TestState_HistoryAppendOnly(t *testing.T) {
	s := New("q")
	for i := 1; i <= 3; i++ {
		err := s.AppendHistory(HistoryEntry{
			Step:   plan.Step{Number: i, Action: "a", Tool: plan.ToolSearch},
			Result: plan.StepResult{StepNumber: i, Status: plan.ResultSuccess},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if s.HistoryLen() != i {
			t.Fatalf("history length should be %d, got %d", i, s.HistoryLen())
		}
	}

	// Mutating the returned copy must not touch the state's history.
	h := s.History()
	h[0].Result.Status = plan.ResultError
	if s.History()[0].Result.Status != plan.ResultSuccess {
		t.Error("History() must return a copy")
	}
}

func TestState_RecordDecisionOnce(t *testing.T) {
	s := New("q")
	if err := s.RecordDecision(&decision.Decision{Verdict: decision.VerdictContinue}); err == nil {
		t.Error("recording a decision with no history should fail")
	}

	_ = s.AppendHistory(HistoryEntry{Step: plan.Step{Number: 1}, Result: plan.StepResult{StepNumber: 1, Status: plan.ResultSuccess}})
	if err := s.RecordDecision(&decision.Decision{Verdict: decision.VerdictContinue}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordDecision(&decision.Decision{Verdict: decision.VerdictReplan}); err == nil {
		t.Error("double decision on one entry should fail")
	}
}

func TestState_ResultLatestWins(t *testing.T) {
	s := New("q")
	if err := s.SetResult(plan.StepResult{StepNumber: 1, Status: plan.ResultNotFound}); err != nil {
		t.Fatalf("set result: %v", err)
	}
	// A re-executed step overwrites its slot.
	if err := s.SetResult(plan.StepResult{StepNumber: 1, Status: plan.ResultSuccess}); err != nil {
		t.Fatalf("overwrite on re-execution: %v", err)
	}
	if got, ok := s.Result(1); !ok || got.Status != plan.ResultSuccess {
		t.Errorf("lookup failed: %+v ok=%v", got, ok)
	}
	if err := s.SetResult(plan.StepResult{StepNumber: 2, Status: "weird"}); err == nil {
		t.Error("unrecognized status should be rejected")
	}
}

func TestState_FreezeBlocksMutation(t *testing.T) {
	s := New("q")
	_ = s.SetPlan(testPlan())
	s.Freeze()

	if err := s.SetStatus(StatusExecuting); !errors.Is(err, ErrFrozen) {
		t.Errorf("SetStatus after freeze: %v", err)
	}
	if err := s.AppendHistory(HistoryEntry{}); !errors.Is(err, ErrFrozen) {
		t.Errorf("AppendHistory after freeze: %v", err)
	}
	if err := s.MergeScratchpad(map[string]any{"k": "v"}); !errors.Is(err, ErrFrozen) {
		t.Errorf("MergeScratchpad after freeze: %v", err)
	}
	if err := s.AdvanceStep(); !errors.Is(err, ErrFrozen) {
		t.Errorf("AdvanceStep after freeze: %v", err)
	}

	// Reads still work on the frozen record.
	if !s.Frozen() {
		t.Error("Frozen() should report true")
	}
	if s.Snapshot().Query != "q" {
		t.Error("snapshot of frozen state should be readable")
	}
}

func TestState_Get(t *testing.T) {
	s := New("how thick is the slab cover")
	_ = s.SetPlan(testPlan())
	_ = s.MergeScratchpad(map[string]any{KeyQueryDomain: "concrete structures"})
	_ = s.SetResult(plan.StepResult{StepNumber: 1, Status: plan.ResultSuccess})

	if v, ok := s.Get("query"); !ok || v != "how thick is the slab cover" {
		t.Errorf("query lookup: %v %v", v, ok)
	}
	if v, ok := s.Get("scratchpad.query_domain"); !ok || v != "concrete structures" {
		t.Errorf("scratchpad path lookup: %v %v", v, ok)
	}
	if _, ok := s.Get("step_1"); !ok {
		t.Error("step_1 should resolve")
	}
	if _, ok := s.Get("step_9"); ok {
		t.Error("missing step should not resolve")
	}
	if _, ok := s.Get("nonsense"); ok {
		t.Error("unknown path should not resolve")
	}
}

func TestState_LastKAndLoopCount(t *testing.T) {
	s := New("q")
	for i := 1; i <= 5; i++ {
		_ = s.AppendHistory(HistoryEntry{
			Step:   plan.Step{Number: i, Tool: plan.ToolSearch, SemanticKeywords: []string{"same"}},
			Result: plan.StepResult{StepNumber: i, Status: plan.ResultNotFound},
		})
		d := &decision.Decision{Verdict: decision.VerdictReplan, IsLoopDetected: i == 3 || i == 5,
			ReplanInstructions: &decision.ReplanInstructions{Strategy: decision.StrategyChangeKeywords}}
		_ = s.RecordDecision(d)
	}

	last := s.LastK(3)
	if len(last) != 3 || last[0].Step.Number != 3 || last[2].Step.Number != 5 {
		t.Errorf("LastK(3) wrong window: %+v", last)
	}
	if got := s.LastK(10); len(got) != 5 {
		t.Errorf("LastK larger than history should return all, got %d", len(got))
	}
	if s.LoopCount() != 2 {
		t.Errorf("expected 2 loops, got %d", s.LoopCount())
	}
	if s.ReplanCount() != 5 {
		t.Errorf("expected 5 replans, got %d", s.ReplanCount())
	}
	if got := s.UsedStrategies(); len(got) != 5 || got[0] != decision.StrategyChangeKeywords {
		t.Errorf("UsedStrategies: %v", got)
	}
}
