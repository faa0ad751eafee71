package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

func TestLogWritesHeaderEventsFooter(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir, "sess-1", "what is the minimum door width")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	records := []Record{
		{Event: EventStatus, From: "planning", To: "executing"},
		{Event: EventPlan, Goal: "establish the door width", Steps: 2},
		{Event: EventStep, Step: &plan.Step{Number: 1, Action: "find the clause", Tool: plan.ToolSearch}},
		{Event: EventDecision, Decision: &decision.Decision{Verdict: decision.VerdictFinalize}},
	}
	for _, r := range records {
		if err := l.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	answer := &state.FinalAnswer{Analysis: "0.8 m", Sources: []plan.Source{{DocumentName: "SP 1.13130"}}}
	if err := l.Close("completed", answer, "", ""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if tr.SessionID != "sess-1" || tr.Query != "what is the minimum door width" {
		t.Errorf("header = %q / %q", tr.SessionID, tr.Query)
	}
	if len(tr.Events) != 4 {
		t.Fatalf("trail has %d events, want 4", len(tr.Events))
	}
	for i, e := range tr.Events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d has seq %d", i, e.Seq)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
	}
	if tr.Events[1].Goal != "establish the door width" || tr.Events[1].Steps != 2 {
		t.Errorf("plan event = %+v", tr.Events[1])
	}
	if !tr.Ended() || tr.Status != "completed" {
		t.Errorf("footer status = %q", tr.Status)
	}
	if tr.Answer == nil || tr.Answer.Analysis != "0.8 m" {
		t.Errorf("footer answer = %+v", tr.Answer)
	}
}

func TestTraceWithoutFooterIsRunning(t *testing.T) {
	dir := t.TempDir()
	l, err := Create(dir, "sess-live", "query")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := l.Append(Record{Event: EventStatus, From: "planning", To: "executing"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Read while the writer still holds the file, as a follower would.
	tr, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if tr.Ended() {
		t.Error("trail without footer reports ended")
	}
	if len(tr.Events) != 1 {
		t.Errorf("trail has %d events, want 1", len(tr.Events))
	}

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Status != "running" {
		t.Errorf("listing = %+v, want one running session", infos)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	l, err := Create(t.TempDir(), "sess-closed", "query")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := l.Close("error", nil, "provider down", ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Append(Record{Event: EventStatus}); err == nil {
		t.Fatal("Append after Close succeeded")
	}
	if err := l.Close("error", nil, "", ""); err == nil {
		t.Fatal("second Close succeeded")
	}
}

func TestRecorderMapsCallbacks(t *testing.T) {
	l, err := Create(t.TempDir(), "sess-rec", "query")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var recErr error
	rec := NewRecorder(l, func(e error) { recErr = e })

	rec.StatusChanged("sess-rec", state.StatusPlanning, state.StatusExecuting)
	rec.PlanSet("sess-rec", &plan.Plan{Goal: "goal", Steps: []plan.Step{{Number: 1}}})
	rec.StepCompleted("sess-rec",
		plan.Step{Number: 1, Action: "find", Tool: plan.ToolSearch},
		plan.StepResult{StepNumber: 1, Status: plan.ResultSuccess})
	rec.DecisionMade("sess-rec", &decision.Decision{
		Verdict:            decision.VerdictReplan,
		ReplanInstructions: &decision.ReplanInstructions{Strategy: decision.StrategyChangeKeywords},
	})
	rec.Replanned("sess-rec", &plan.Plan{Goal: "goal", Steps: []plan.Step{{Number: 2}}})

	if recErr != nil {
		t.Fatalf("recorder error: %v", recErr)
	}
	if err := l.Close("human_review", nil, "", "loop repeated"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var types []string
	for _, e := range tr.Events {
		types = append(types, e.Event)
	}
	want := "status plan step decision replan"
	if got := strings.Join(types, " "); got != want {
		t.Errorf("event sequence = %q, want %q", got, want)
	}
	if tr.Events[3].Strategy != string(decision.StrategyChangeKeywords) {
		t.Errorf("decision event strategy = %q", tr.Events[3].Strategy)
	}
	if tr.Reason != "loop repeated" {
		t.Errorf("footer reason = %q", tr.Reason)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"sess-old", "sess-new"} {
		l, err := Create(dir, id, "query "+id)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := l.Close("completed", nil, "", ""); err != nil {
			t.Fatalf("Close: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listing has %d rows, want 2", len(infos))
	}
	if infos[0].SessionID != "sess-new" || infos[1].SessionID != "sess-old" {
		t.Errorf("order = [%s %s], want newest first", infos[0].SessionID, infos[1].SessionID)
	}
}

func TestReadFileRequiresHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonl")
	if err := os.WriteFile(path, []byte(`{"_type":"event","event":"status"}`+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("trail without header accepted")
	}
}
