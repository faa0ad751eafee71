package state

import (
	"strings"
	"testing"
)

func TestMergeScratchpad_Additive(t *testing.T) {
	s := New("q")
	_ = s.MergeScratchpad(map[string]any{"a": 1, "b": "x"})
	_ = s.MergeScratchpad(map[string]any{"b": "y", "c": true})

	sp := s.Scratchpad()
	if sp["a"] != 1 || sp["b"] != "y" || sp["c"] != true {
		t.Errorf("merge result wrong: %v", sp)
	}
}

func TestMergeScratchpad_NoSilentDeletion(t *testing.T) {
	s := New("q")
	_ = s.MergeScratchpad(map[string]any{"keep": "v", KeyQueryDomain: "fire safety"})

	// An update that omits existing keys must not remove them.
	_ = s.MergeScratchpad(map[string]any{"new": 1})
	sp := s.Scratchpad()
	if _, ok := sp["keep"]; !ok {
		t.Error("omitted key was silently deleted")
	}

	// Deletion happens only through the explicit remove list.
	_ = s.MergeScratchpad(map[string]any{RemoveKey: []any{"keep"}})
	sp = s.Scratchpad()
	if _, ok := sp["keep"]; ok {
		t.Error("explicit remove did not delete key")
	}
	if sp.GetString(KeyQueryDomain) != "fire safety" {
		t.Error("unrelated key removed")
	}
}

func TestScratchpad_StringSlice(t *testing.T) {
	sp := Scratchpad{
		"yaml_list": []any{"SP 63", "SP 20"},
		"go_list":   []string{"a"},
		"scalar":    "just one",
	}
	if got := sp.StringSlice("yaml_list"); len(got) != 2 || got[0] != "SP 63" {
		t.Errorf("yaml list: %v", got)
	}
	if got := sp.StringSlice("go_list"); len(got) != 1 {
		t.Errorf("go list: %v", got)
	}
	if got := sp.StringSlice("scalar"); len(got) != 1 || got[0] != "just one" {
		t.Errorf("scalar: %v", got)
	}
	if got := sp.StringSlice("missing"); got != nil {
		t.Errorf("missing key should be nil, got %v", got)
	}
}

func TestScratchpad_RenderDeterministic(t *testing.T) {
	sp := Scratchpad{"b": 2, "a": 1, "c": 3}
	first := sp.Render()
	for i := 0; i < 10; i++ {
		if sp.Render() != first {
			t.Fatal("render order not deterministic")
		}
	}
	if !strings.Contains(first, "a: 1") {
		t.Errorf("render missing entry: %q", first)
	}
	if idx := strings.Index(first, "a: 1"); idx > strings.Index(first, "b: 2") {
		t.Error("keys should be sorted")
	}

	if (Scratchpad{}).Render() != "(empty)" {
		t.Error("empty scratchpad should render placeholder")
	}
}
