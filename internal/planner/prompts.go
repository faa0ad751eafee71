package planner

import (
	"fmt"
	"strings"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

const systemPrompt = `You are a planning assistant for answering questions about normative
technical documents (building codes, standards, regulations). You break a
question into an ordered sequence of tool steps and respond only in YAML.`

const planSchema = `goal: <one sentence restating what must be established>
steps:
  - step_number: 1
    reasoning: <why this step>
    action: <what the step does>
    tool: search | calculate | other
    semantic_keywords: [<keyword>, ...]        # search only
    expected_documents: [<document code>, ...] # search only, optional
    expression: <arithmetic expression>        # calculate only
    input_variables:                           # calculate only
      <name>: <literal or {step_N.structured_output.value}>
    output_variable: <name>                    # calculate only
    validation_criteria: <how to tell the step succeeded>`

// buildInitialPrompt renders the first planning request.
func buildInitialPrompt(query string, scratch state.Scratchpad) string {
	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(query)
	b.WriteString("\n\nKNOWN FACTS:\n")
	b.WriteString(scratch.Render())
	b.WriteString("\nInstructions:\n")
	b.WriteString("- Plan the smallest sequence of steps that grounds the answer in retrievable sources.\n")
	b.WriteString("- Every search step needs semantic_keywords; name expected_documents when the relevant code is known.\n")
	b.WriteString("- Add a calculate step whenever the question requires arithmetic over retrieved values.\n")
	b.WriteString("- Respond with YAML only, following this schema:\n\n")
	b.WriteString(planSchema)
	return b.String()
}

// buildReplanPrompt renders a replanning request that replaces the
// remaining steps of the current plan.
func buildReplanPrompt(query string, scratch state.Scratchpad, current *plan.Plan, history []state.HistoryEntry, instr decision.ReplanInstructions) string {
	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(query)

	if current != nil {
		fmt.Fprintf(&b, "\n\nCURRENT GOAL:\n%s\n", current.Goal)
		b.WriteString("\nCOMPLETED STEPS (immutable, do not repeat):\n")
		done := 0
		for _, s := range current.Steps {
			if s.Status == plan.StepDone {
				fmt.Fprintf(&b, "  %d. [%s] %s\n", s.Number, s.Tool, s.Action)
				done++
			}
		}
		if done == 0 {
			b.WriteString("  (none)\n")
		}
	}

	if len(history) > 0 {
		b.WriteString("\nRECENT OUTCOMES:\n")
		for _, e := range history {
			fmt.Fprintf(&b, "  step %d (%s): %s: %s\n", e.Step.Number, e.Step.Tool, e.Result.Status, firstLine(e.Result.Summary))
		}
	}

	b.WriteString("\nKNOWN FACTS:\n")
	b.WriteString(scratch.Render())

	fmt.Fprintf(&b, "\nREPLAN STRATEGY: %s\n", instr.Strategy)
	if instr.Details != "" {
		fmt.Fprintf(&b, "STRATEGY DETAILS: %s\n", instr.Details)
	}
	b.WriteString(strategyGuidance(instr.Strategy))

	if rejected := scratch.StringSlice(state.KeyRejectedSources); len(rejected) > 0 {
		fmt.Fprintf(&b, "\nDo not plan around these rejected sources again: %s\n", strings.Join(rejected, "; "))
	}

	b.WriteString("\nProduce replacement steps for the remaining work only. Respond with YAML only, following this schema:\n\n")
	b.WriteString(planSchema)
	return b.String()
}

func strategyGuidance(s decision.Strategy) string {
	switch s {
	case decision.StrategyRefineSearch:
		return "Narrow the search: target the highest-priority documents and tighten keywords to the exact clause.\n"
	case decision.StrategyChangeKeywords:
		return "Use different terminology: synonyms, official phrasing, or the terms the documents themselves use.\n"
	case decision.StrategyNewHypothesis:
		return "Reconsider which documents should contain the answer and search those instead.\n"
	case decision.StrategyCalculationStep:
		return "The data is gathered; add the calculate step that derives the final value from it.\n"
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}
