package logging

// Control-loop event helpers. Keeping the vocabulary here keeps log lines
// consistent across stages and greppable by field.

// SessionStart records the beginning of a query session.
func (l *Logger) SessionStart(sessionID, query string) {
	l.Info("session started", map[string]any{
		"session_id": sessionID,
		"query":      query,
	})
}

// SessionEnd records the terminal status of a session.
func (l *Logger) SessionEnd(sessionID, status string) {
	l.Info("session ended", map[string]any{
		"session_id": sessionID,
		"status":     status,
	})
}

// StatusChange records a state machine transition.
func (l *Logger) StatusChange(sessionID, from, to string) {
	l.Debug("status transition", map[string]any{
		"session_id": sessionID,
		"from":       from,
		"to":         to,
	})
}

// StepDispatch records a tool invocation about to happen.
func (l *Logger) StepDispatch(sessionID string, stepNumber int, tool, action string) {
	l.Info("dispatching step", map[string]any{
		"session_id": sessionID,
		"step":       stepNumber,
		"tool":       tool,
		"action":     action,
	})
}

// StepOutcome records the wrapped result of a dispatched step.
func (l *Logger) StepOutcome(sessionID string, stepNumber int, status, summary string) {
	l.Info("step completed", map[string]any{
		"session_id": sessionID,
		"step":       stepNumber,
		"status":     status,
		"summary":    summary,
	})
}

// Verdict records the judge's decision for the latest step.
func (l *Logger) Verdict(sessionID, verdict string, relevance, consistency float64, loop bool) {
	l.Info("judge verdict", map[string]any{
		"session_id":          sessionID,
		"verdict":             verdict,
		"source_relevance":    relevance,
		"context_consistency": consistency,
		"loop_detected":       loop,
	})
}

// Replanned records a plan replacement and its strategy.
func (l *Logger) Replanned(sessionID, strategy string, steps int) {
	l.Info("plan replaced", map[string]any{
		"session_id": sessionID,
		"strategy":   strategy,
		"steps":      steps,
	})
}

// Escalated records a handoff to human review.
func (l *Logger) Escalated(sessionID, reason string) {
	l.Warn("escalated to human review", map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	})
}
