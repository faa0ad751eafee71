// Package guard holds the cross-cutting termination policy consulted by
// the judge: loop detection over a sliding history window and the absolute
// step budget. Pure functions; limits arrive from configuration.
package guard

import (
	"errors"
	"fmt"

	"github.com/normagent/normagent/internal/state"
)

// Sentinel conditions surfaced by the guards and the stages that hit them.
var (
	// ErrLoopDetected marks identical work repeated across the detection
	// window. Handled by the judge's loop rule, escalating on repeat.
	ErrLoopDetected = errors.New("loop detected")

	// ErrMaxStepsExceeded marks the session step ceiling. Always escalates
	// to human review.
	ErrMaxStepsExceeded = errors.New("maximum session steps exceeded")

	// ErrToolFailure marks an external tool failure or timeout. Surfaced
	// to the judge as an error step result, never swallowed.
	ErrToolFailure = errors.New("tool failure")
)

// DetectLoop reports whether the newest window entries of history all
// carry the same (tool, normalized parameters) signature. Returns the
// shared signature when a loop is found. A window smaller than 2 or a
// history shorter than the window never loops.
func DetectLoop(history []state.HistoryEntry, window int) (bool, string) {
	if window < 2 || len(history) < window {
		return false, ""
	}
	recent := history[len(history)-window:]
	sig := recent[0].Step.Signature()
	for _, e := range recent[1:] {
		if e.Step.Signature() != sig {
			return false, ""
		}
	}
	return true, sig
}

// CheckBudget returns ErrMaxStepsExceeded once the number of dispatcher
// invocations reaches the configured ceiling.
func CheckBudget(stepsExecuted, maxSteps int) error {
	if maxSteps <= 0 {
		return fmt.Errorf("step budget must be positive, got %d", maxSteps)
	}
	if stepsExecuted >= maxSteps {
		return fmt.Errorf("%w: %d of %d", ErrMaxStepsExceeded, stepsExecuted, maxSteps)
	}
	return nil
}

// NextStrategy picks a replan strategy different from every strategy in
// used, preferring the given order. Falls back to the first candidate when
// all have been tried.
func NextStrategy[T comparable](candidates []T, used []T) T {
	seen := make(map[T]bool, len(used))
	for _, u := range used {
		seen[u] = true
	}
	for _, c := range candidates {
		if !seen[c] {
			return c
		}
	}
	return candidates[0]
}
