// Package extract pulls structured YAML out of lenient model output. Model
// text is never trusted: candidates are cut from fenced blocks, decoded,
// and validated by the caller before anything reaches the decision
// pipeline. Parse failures are recoverable and drive bounded re-prompts.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrParse marks model output that fails to decode into the expected
// structure after all fallbacks.
var ErrParse = errors.New("model output did not parse")

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)
	yamlFenceRe  = regexp.MustCompile("(?s)```ya?ml\\s*\n(.*?)```")
	bareFenceRe  = regexp.MustCompile("(?s)```\\s*\n(.*?)```")
)

// StripThinkBlocks removes reasoning-model think tags so they cannot leak
// into parsed structures or prompts.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(s, ""))
}

// Decode extracts YAML from raw model text into v. Candidates are tried in
// order: a ```yaml fenced block, any bare fenced block, then the whole
// text. The first candidate that decodes wins.
func Decode(raw string, v any) error {
	cleaned := StripThinkBlocks(raw)
	if cleaned == "" {
		return fmt.Errorf("%w: empty output", ErrParse)
	}

	var lastErr error
	for _, candidate := range candidates(cleaned) {
		if err := yaml.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrParse, lastErr)
}

// candidates lists the text fragments worth attempting, most specific
// first, without duplicates.
func candidates(s string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	if m := yamlFenceRe.FindStringSubmatch(s); m != nil {
		add(m[1])
	}
	if m := bareFenceRe.FindStringSubmatch(s); m != nil {
		add(m[1])
	}
	add(s)
	return out
}
