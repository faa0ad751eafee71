package guard

import (
	"errors"
	"testing"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

func entry(n int, keywords ...string) state.HistoryEntry {
	return state.HistoryEntry{
		Step: plan.Step{Number: n, Tool: plan.ToolSearch, SemanticKeywords: keywords},
		Result: plan.StepResult{
			StepNumber: n,
			Status:     plan.ResultNotFound,
		},
	}
}

func TestDetectLoop(t *testing.T) {
	same := []state.HistoryEntry{entry(1, "cover"), entry(2, "cover"), entry(3, "cover")}
	looped, sig := DetectLoop(same, 3)
	if !looped {
		t.Fatal("three identical searches should loop")
	}
	if sig == "" {
		t.Error("loop should report the shared signature")
	}

	mixed := []state.HistoryEntry{entry(1, "cover"), entry(2, "slab"), entry(3, "cover")}
	if looped, _ := DetectLoop(mixed, 3); looped {
		t.Error("differing keywords must not loop")
	}

	// Normalization: case and surrounding space do not defeat detection.
	fuzzy := []state.HistoryEntry{entry(1, "Cover"), entry(2, " cover "), entry(3, "COVER")}
	if looped, _ := DetectLoop(fuzzy, 3); !looped {
		t.Error("normalized parameters should still loop")
	}
}

func TestDetectLoop_ShortHistory(t *testing.T) {
	short := []state.HistoryEntry{entry(1, "k"), entry(2, "k")}
	if looped, _ := DetectLoop(short, 3); looped {
		t.Error("history shorter than window must not loop")
	}
	if looped, _ := DetectLoop(nil, 3); looped {
		t.Error("empty history must not loop")
	}
	if looped, _ := DetectLoop(short, 1); looped {
		t.Error("window below 2 disables detection")
	}
}

func TestDetectLoop_WindowIsNewestEntries(t *testing.T) {
	h := []state.HistoryEntry{entry(1, "old"), entry(2, "same"), entry(3, "same"), entry(4, "same")}
	if looped, _ := DetectLoop(h, 3); !looped {
		t.Error("older non-matching entries outside the window should be ignored")
	}
}

func TestCheckBudget(t *testing.T) {
	if err := CheckBudget(4, 10); err != nil {
		t.Errorf("under budget: %v", err)
	}
	if err := CheckBudget(10, 10); !errors.Is(err, ErrMaxStepsExceeded) {
		t.Errorf("at ceiling should exceed: %v", err)
	}
	if err := CheckBudget(25, 10); !errors.Is(err, ErrMaxStepsExceeded) {
		t.Errorf("over ceiling should exceed: %v", err)
	}
	if err := CheckBudget(0, 0); err == nil {
		t.Error("zero budget is a configuration error")
	}
}

func TestNextStrategy(t *testing.T) {
	order := []decision.Strategy{
		decision.StrategyChangeKeywords,
		decision.StrategyRefineSearch,
		decision.StrategyNewHypothesis,
	}

	got := NextStrategy(order, []decision.Strategy{decision.StrategyChangeKeywords})
	if got != decision.StrategyRefineSearch {
		t.Errorf("expected next unused strategy, got %s", got)
	}

	got = NextStrategy(order, nil)
	if got != decision.StrategyChangeKeywords {
		t.Errorf("no history should pick first, got %s", got)
	}

	// All used falls back to the first candidate rather than failing.
	got = NextStrategy(order, order)
	if got != decision.StrategyChangeKeywords {
		t.Errorf("exhausted candidates should fall back, got %s", got)
	}
}
