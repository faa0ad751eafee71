package state

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known scratchpad keys. Arbitrary discovered facts live alongside.
const (
	KeyPriorityDocuments = "priority_documents"
	KeyQueryDomain       = "query_domain"
	KeyRejectedSources   = "rejected_sources"
	KeySearchHypotheses  = "search_hypotheses"
)

// RemoveKey marks the one sanctioned deletion path: an update whose
// RemoveKey entry lists keys to drop. Everything else merges additively.
const RemoveKey = "_remove"

// Scratchpad is the durable fact store accumulated across steps.
type Scratchpad map[string]any

// Clone returns a shallow copy safe to hand outside the state.
func (sp Scratchpad) Clone() Scratchpad {
	out := make(Scratchpad, len(sp))
	for k, v := range sp {
		out[k] = v
	}
	return out
}

// GetString returns the value under key rendered as a string.
func (sp Scratchpad) GetString(key string) string {
	v, ok := sp[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// StringSlice returns the value under key as a string slice, accepting the
// []any shape YAML decoding produces.
func (sp Scratchpad) StringSlice(key string) []string {
	switch v := sp[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Render formats the scratchpad for prompt inclusion, keys sorted so the
// same facts always render identically.
func (sp Scratchpad) Render() string {
	if len(sp) == 0 {
		return "(empty)"
	}
	keys := make([]string, 0, len(sp))
	for k := range sp {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, sp[k])
	}
	return b.String()
}

// MergeScratchpad applies an update to the scratchpad. Updates are
// additive/overwriting; keys are deleted only when listed under RemoveKey.
func (s *State) MergeScratchpad(update map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if len(update) == 0 {
		return nil
	}
	for k, v := range update {
		if k == RemoveKey {
			continue
		}
		s.scratch[k] = v
	}
	if rm, ok := update[RemoveKey]; ok {
		for _, key := range toStringList(rm) {
			delete(s.scratch, key)
		}
	}
	s.updatedAt = time.Now()
	return nil
}

// Scratchpad returns a copy of the current scratchpad contents.
func (s *State) Scratchpad() Scratchpad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scratch.Clone()
}

func toStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		return []string{list}
	}
	return nil
}
