package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/normagent/normagent/internal/guard"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/tools"
)

type outcome struct {
	res plan.StepResult
	err error
}

// fakeTool plays back scripted outcomes in order, repeating the last one.
type fakeTool struct {
	name   plan.Tool
	script []outcome
	calls  int
}

func (f *fakeTool) Name() plan.Tool { return f.name }

func (f *fakeTool) Run(_ context.Context, _ plan.Step, _ tools.Lookup) (plan.StepResult, error) {
	f.calls++
	i := f.calls - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].res, f.script[i].err
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, _ llm.Request) (llm.Response, error) {
	s.calls++
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return llm.Response{Text: s.responses[i]}, nil
}

func searchStep(n int, keywords ...string) plan.Step {
	return plan.Step{Number: n, Action: "find the clause", Tool: plan.ToolSearch, SemanticKeywords: keywords}
}

func execState(t *testing.T, steps ...plan.Step) *state.State {
	t.Helper()
	st := state.New("what is the required corridor width")
	if err := st.SetStatus(state.StatusExecuting); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := st.SetPlan(&plan.Plan{Goal: "establish the corridor width", Steps: steps}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	return st
}

func registryWith(t *testing.T, ft *fakeTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(ft); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func successResult(n int) plan.StepResult {
	return plan.StepResult{
		StepNumber: n,
		Status:     plan.ResultSuccess,
		Source:     &plan.Source{DocumentName: "SP 1.13130", Locator: "clause 4.3.3"},
		Summary:    "1. [SP 1.13130 clause 4.3.3] corridor width at least 1.2 m",
	}
}

func TestDispatchSuccessAdvances(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"), searchStep(2, "door width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{{res: successResult(1)}}}
	e := New(registryWith(t, ft), nil, Config{}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}

	step, ok := st.CurrentStep()
	if !ok || step.Number != 2 {
		t.Errorf("cursor should advance to step 2, got %+v ok=%v", step, ok)
	}
	if _, ok := st.Result(1); !ok {
		t.Error("result not stored under step_1")
	}
	if st.HistoryLen() != 1 {
		t.Errorf("history length = %d, want 1", st.HistoryLen())
	}
}

func TestDispatchFailureKeepsCursor(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{
		{err: guard.ErrToolFailure},
	}}
	e := New(registryWith(t, ft), nil, Config{MaxToolRetries: 2}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultError || res.Error == "" {
		t.Fatalf("result = %+v, want error status with message", res)
	}
	if ft.calls != 2 {
		t.Errorf("tool calls = %d, want the configured retries", ft.calls)
	}

	step, ok := st.CurrentStep()
	if !ok || step.Number != 1 {
		t.Errorf("cursor must not advance on failure, got %+v ok=%v", step, ok)
	}
	if st.HistoryLen() != 1 {
		t.Errorf("failed step must still be recorded, history = %d", st.HistoryLen())
	}
}

func TestDispatchRetryThenSuccess(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{
		{err: guard.ErrToolFailure},
		{res: successResult(1)},
	}}
	e := New(registryWith(t, ft), nil, Config{MaxToolRetries: 3}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultSuccess {
		t.Fatalf("status = %s, want success after retry", res.Status)
	}
	if ft.calls != 2 {
		t.Errorf("tool calls = %d, want 2", ft.calls)
	}
}

func TestDispatchNotFoundKeepsCursor(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{
		{res: plan.StepResult{StepNumber: 1, Status: plan.ResultNotFound, Summary: "no hits"}},
	}}
	e := New(registryWith(t, ft), nil, Config{}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultNotFound {
		t.Fatalf("status = %s, want not_found", res.Status)
	}
	if step, _ := st.CurrentStep(); step.Number != 1 {
		t.Error("not_found must not advance the cursor")
	}
}

func TestDispatchWithoutPendingStep(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	if err := st.AdvanceStep(); err != nil {
		t.Fatalf("AdvanceStep: %v", err)
	}

	e := New(tools.NewRegistry(), nil, Config{}, nil)
	if _, err := e.Dispatch(context.Background(), st); err == nil {
		t.Error("dispatch on an exhausted plan should fail")
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{{res: successResult(1)}}}
	e := New(registryWith(t, ft), nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Dispatch(ctx, st); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if st.HistoryLen() != 0 {
		t.Error("cancelled dispatch must not append history")
	}
}

func TestDispatchFrozenState(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	st.Freeze()

	e := New(tools.NewRegistry(), nil, Config{}, nil)
	if _, err := e.Dispatch(context.Background(), st); !errors.Is(err, state.ErrFrozen) {
		t.Fatalf("err = %v, want ErrFrozen", err)
	}
}

const extractionYAML = `found: true
entity: minimum corridor width
value: "1.2"
units: m
source_reference: SP 1.13130, clause 4.3.3
conditions: evacuation routes in public buildings
`

func TestDispatchExtractsStructuredValue(t *testing.T) {
	step := searchStep(1, "corridor width")
	step.OutputVariable = "corridor_width"
	st := execState(t, step)

	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{{res: successResult(1)}}}
	fakeLLM := &scriptedLLM{responses: []string{extractionYAML}}
	e := New(registryWith(t, ft), fakeLLM, Config{}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	o := res.StructuredOutput
	if o == nil || o.Value != "1.2" || o.Units != "m" {
		t.Fatalf("structured output = %+v", o)
	}
	if o.VariableName != "corridor_width" {
		t.Errorf("variable name = %q, want the step's output variable", o.VariableName)
	}
}

func TestDispatchExtractionMissDowngradesToPartial(t *testing.T) {
	step := searchStep(1, "corridor width")
	step.OutputVariable = "corridor_width"
	st := execState(t, step)

	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{{res: successResult(1)}}}
	fakeLLM := &scriptedLLM{responses: []string{"found: false\n"}}
	e := New(registryWith(t, ft), fakeLLM, Config{}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultPartial {
		t.Fatalf("status = %s, want partial when the wanted value is missing", res.Status)
	}
	if step, _ := st.CurrentStep(); step.Number != 1 {
		t.Error("partial result must not advance the cursor")
	}
}

const reasoningYAML = `summary: The 1.2 m requirement governs because the corridor serves an evacuation route.
structured_output:
  entity: governing requirement
  value: "1.2"
  units: m
  source_reference: SP 1.13130, clause 4.3.3
  conditions: evacuation routes
`

func TestDispatchReasoningStep(t *testing.T) {
	st := execState(t, plan.Step{
		Number: 1,
		Action: "decide which of the found requirements governs",
		Tool:   plan.ToolOther,
	})

	fakeLLM := &scriptedLLM{responses: []string{reasoningYAML}}
	e := New(tools.NewRegistry(), fakeLLM, Config{}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if !strings.Contains(res.Summary, "1.2 m requirement") {
		t.Errorf("summary = %q", res.Summary)
	}
	if res.StructuredOutput == nil || res.StructuredOutput.Value != "1.2" {
		t.Errorf("structured output = %+v", res.StructuredOutput)
	}
	if _, ok := st.CurrentStep(); ok {
		t.Error("successful reasoning step should exhaust a single-step plan")
	}
}

func TestDispatchReasoningParseExhaustion(t *testing.T) {
	st := execState(t, plan.Step{Number: 1, Action: "summarize findings", Tool: plan.ToolOther})

	fakeLLM := &scriptedLLM{responses: []string{"][ not yaml"}}
	e := New(tools.NewRegistry(), fakeLLM, Config{MaxToolRetries: 2}, nil)

	res, err := e.Dispatch(context.Background(), st)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Status != plan.ResultError {
		t.Fatalf("status = %s, want error after parse exhaustion", res.Status)
	}
	if fakeLLM.calls != 2 {
		t.Errorf("llm calls = %d, want 2", fakeLLM.calls)
	}
}

func TestDispatchReExecutionOverwritesResult(t *testing.T) {
	st := execState(t, searchStep(1, "corridor width"))
	ft := &fakeTool{name: plan.ToolSearch, script: []outcome{
		{res: plan.StepResult{StepNumber: 1, Status: plan.ResultNotFound, Summary: "no hits"}},
		{res: successResult(1)},
	}}
	e := New(registryWith(t, ft), nil, Config{}, nil)

	if _, err := e.Dispatch(context.Background(), st); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if _, err := e.Dispatch(context.Background(), st); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}

	res, ok := st.Result(1)
	if !ok || res.Status != plan.ResultSuccess {
		t.Errorf("step_1 result = %+v, want the latest attempt", res)
	}
	if st.HistoryLen() != 2 {
		t.Errorf("history length = %d, want both attempts", st.HistoryLen())
	}
}
