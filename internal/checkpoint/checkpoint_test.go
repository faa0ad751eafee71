package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

func sessionSnapshot(t *testing.T, query string) state.Snapshot {
	t.Helper()
	st := state.New(query)
	if err := st.SetPlan(&plan.Plan{
		Goal: "locate the governing clause",
		Steps: []plan.Step{
			{Number: 1, Action: "search", Tool: plan.ToolSearch, SemanticKeywords: []string{"clause"}},
		},
	}); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	return st.Snapshot()
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("store is nil")
	}
}

func TestSaveAndLatest(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	snap := sessionSnapshot(t, "first query")
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Latest(snap.SessionID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Query != "first query" {
		t.Errorf("wrong query: %s", got.Query)
	}
	if got.Plan == nil || got.Plan.Goal != "locate the governing clause" {
		t.Errorf("plan not round-tripped: %+v", got.Plan)
	}
}

func TestSaveWritesNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	snap := sessionSnapshot(t, "q")
	for i := 0; i < 3; i++ {
		if err := store.Save(snap); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}

	for _, name := range []string{"0001.json", "0002.json", "0003.json"} {
		path := filepath.Join(dir, snap.SessionID, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("snapshot %s not written to disk", name)
		}
	}
}

func TestTrailPreservesOrder(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	first := sessionSnapshot(t, "q")
	second := first
	second.Status = state.StatusExecuting
	third := first
	third.Status = state.StatusJudging

	for _, snap := range []state.Snapshot{first, second, third} {
		if err := store.Save(snap); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	trail, err := store.Trail(first.SessionID)
	if err != nil {
		t.Fatalf("Trail failed: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail length = %d, want 3", len(trail))
	}
	want := []state.Status{state.StatusPlanning, state.StatusExecuting, state.StatusJudging}
	for i, snap := range trail {
		if snap.Status != want[i] {
			t.Errorf("trail[%d].Status = %s, want %s", i, snap.Status, want[i])
		}
	}
}

func TestSeqResumesFromDisk(t *testing.T) {
	dir := t.TempDir()

	store, _ := NewStore(dir)
	snap := sessionSnapshot(t, "q")
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A fresh store over the same directory must continue, not overwrite.
	reopened, _ := NewStore(dir)
	if err := reopened.Save(snap); err != nil {
		t.Fatalf("Save after reopen failed: %v", err)
	}

	trail, err := reopened.Trail(snap.SessionID)
	if err != nil {
		t.Fatalf("Trail failed: %v", err)
	}
	if len(trail) != 3 {
		t.Errorf("trail length = %d, want 3 after reopen", len(trail))
	}
}

func TestLatestWithoutCheckpoints(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.Latest("no-such-session"); err == nil {
		t.Error("Latest on unknown session should fail")
	}
}

func TestSessionsListsNewestFirst(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	a := sessionSnapshot(t, "first session")
	b := sessionSnapshot(t, "second session")
	if err := store.Save(a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(b); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ids, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("sessions = %v, want 2 entries", ids)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[a.SessionID] || !seen[b.SessionID] {
		t.Errorf("sessions = %v, want both %s and %s", ids, a.SessionID, b.SessionID)
	}
}

func TestSaveRejectsAnonymousSnapshot(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := store.Save(state.Snapshot{}); err == nil {
		t.Error("Save without a session id should fail")
	}
}
