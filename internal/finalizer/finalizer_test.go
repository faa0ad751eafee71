package finalizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/normagent/normagent/internal/extract"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

type scriptedLLM struct {
	responses []string
	prompts   []string
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return llm.Response{Text: s.responses[i]}, nil
}

const answerYAML = `analysis: The minimum clear width of an evacuation door is 0.8 m.
sources:
  - document: SP 1.13130
    locator: clause 4.2.5
limitations: Applies to public buildings only.
recommendations: Verify against the latest document revision.
`

func appendSuccess(t *testing.T, st *state.State, n int, doc, locator string) {
	t.Helper()
	err := st.AppendHistory(state.HistoryEntry{
		Step: plan.Step{Number: n, Action: "find clause", Tool: plan.ToolSearch,
			SemanticKeywords: []string{"door width"}},
		Result: plan.StepResult{
			StepNumber: n,
			Status:     plan.ResultSuccess,
			Source:     &plan.Source{DocumentName: doc, Locator: locator},
			Summary:    "found the governing clause",
		},
	})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
}

func TestFinalizeComposesAnswer(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")

	fake := &scriptedLLM{responses: []string{answerYAML}}
	f := New(fake, nil, 3)

	answer, err := f.Finalize(context.Background(), st)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !strings.Contains(answer.Analysis, "0.8 m") {
		t.Errorf("analysis lost the value: %q", answer.Analysis)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].DocumentName != "SP 1.13130" {
		t.Errorf("sources = %+v", answer.Sources)
	}
	if answer.Limitations == "" || answer.Recommendations == "" {
		t.Error("limitations and recommendations should be carried over")
	}
}

func TestFinalizeDropsInventedCitations(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")

	invented := strings.Replace(answerYAML,
		"limitations:",
		"  - document: GOST 99999\n    locator: table 1\nlimitations:", 1)

	fake := &scriptedLLM{responses: []string{invented}}
	f := New(fake, nil, 3)

	answer, err := f.Finalize(context.Background(), st)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	for _, s := range answer.Sources {
		if s.DocumentName == "GOST 99999" {
			t.Fatalf("invented citation survived: %+v", answer.Sources)
		}
	}
	if len(answer.Sources) != 1 {
		t.Errorf("sources = %+v, want only the backed one", answer.Sources)
	}
}

func TestFinalizeFallsBackToHistorySources(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")
	appendSuccess(t, st, 2, "SP 1.13130", "clause 4.2.5")
	appendSuccess(t, st, 3, "FZ-123", "article 89")

	uncited := `analysis: The minimum width is 0.8 m.
sources: []
limitations: ""
recommendations: ""
`
	fake := &scriptedLLM{responses: []string{uncited}}
	f := New(fake, nil, 3)

	answer, err := f.Finalize(context.Background(), st)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("sources = %+v, want the two distinct history sources", answer.Sources)
	}
}

func TestFinalizeRetryThenSucceed(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")

	fake := &scriptedLLM{responses: []string{"{{{ not yaml", answerYAML}}
	f := New(fake, nil, 3)

	if _, err := f.Finalize(context.Background(), st); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestFinalizeExhaustionFails(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")

	empty := `analysis: ""
sources: []
`
	fake := &scriptedLLM{responses: []string{empty}}
	f := New(fake, nil, 2)

	_, err := f.Finalize(context.Background(), st)
	if !errors.Is(err, extract.ErrParse) {
		t.Fatalf("err = %v, want a parse error after exhaustion", err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestFinalizeWithoutSuccessesStaysConservative(t *testing.T) {
	st := state.New("minimum evacuation door width")

	honest := `analysis: The research did not produce a confirmed answer.
sources: []
limitations: No relevant clause was located.
recommendations: Consult a fire safety engineer.
`
	fake := &scriptedLLM{responses: []string{honest}}
	f := New(fake, nil, 3)

	answer, err := f.Finalize(context.Background(), st)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("sources = %+v, want none without history", answer.Sources)
	}
	if !strings.Contains(fake.prompts[0], "CONFIRMED FINDINGS: none") {
		t.Error("prompt should state that no findings are confirmed")
	}
}

func TestFinalizeProviderFailure(t *testing.T) {
	st := state.New("minimum evacuation door width")
	appendSuccess(t, st, 1, "SP 1.13130", "clause 4.2.5")

	f := New(failingLLM{}, nil, 3)
	if _, err := f.Finalize(context.Background(), st); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

type failingLLM struct{}

func (failingLLM) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, llm.ErrUnavailable
}
