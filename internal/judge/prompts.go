package judge

import (
	"fmt"
	"strings"

	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

const systemPrompt = `You are the decision engine of an agent that answers questions about
normative documents (codes, standards, regulations). After every executed
step you inspect the execution state and issue exactly one verdict.

Respond with YAML only. No prose outside the YAML document.`

const decisionSchema = `decision: CONTINUE | REPLAN | FINALIZE | HUMAN_REVIEW
reasoning: <one or two sentences>
state_analysis:
  source_relevance: <0.0-1.0, how relevant the latest result is to the question>
  context_consistency: <0.0-1.0, how consistent it is with accumulated facts>
  contradiction_details: <empty string, or what contradicts what>
replan_instructions:            # only when decision is REPLAN
  strategy: REFINE_AND_RESTRICT_SEARCH | CHANGE_KEYWORDS | FORM_NEW_HYPOTHESIS | FORM_CALCULATION_STEP
  details: <concrete guidance for the replanner>
human_review_request: <reason, only when decision is HUMAN_REVIEW>
updated_scratchpad:
  action: UPDATE | NO_UPDATE
  data: {<key>: <value>, ...}   # new or corrected facts worth keeping
  remove: [<key>, ...]          # facts invalidated by this step`

func buildJudgePrompt(st *state.State, res plan.StepResult, loopWindow int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", st.Query())

	p := st.Plan()
	if p != nil {
		fmt.Fprintf(&b, "CURRENT GOAL:\n%s\n\n", p.Goal)
		if remaining := p.Remaining(); len(remaining) > 0 {
			b.WriteString("REMAINING STEPS:\n")
			for _, s := range remaining {
				fmt.Fprintf(&b, "  %d. [%s] %s", s.Number, s.Tool, s.Action)
				if len(s.SemanticKeywords) > 0 {
					fmt.Fprintf(&b, " (keywords: %s)", strings.Join(s.SemanticKeywords, ", "))
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		} else {
			b.WriteString("REMAINING STEPS: none\n\n")
		}
	}

	b.WriteString("LATEST STEP RESULT:\n")
	b.WriteString(renderResult(res))
	b.WriteString("\n")

	fmt.Fprintf(&b, "KNOWN FACTS (scratchpad):\n%s\n\n", st.Scratchpad().Render())

	if recent := st.LastK(loopWindow); len(recent) > 0 {
		fmt.Fprintf(&b, "RECENT HISTORY (last %d steps):\n", len(recent))
		for _, e := range recent {
			fmt.Fprintf(&b, "  step %d [%s] %s -> %s", e.Step.Number, e.Step.Tool, firstLine(e.Step.Action), e.Result.Status)
			if e.Result.Summary != "" {
				fmt.Fprintf(&b, ": %s", firstLine(e.Result.Summary))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`Decide what happens next, applying the rules in this order:
1. If the step failed or found nothing, the plan must not finalize on it.
2. Score how relevant the result is to the QUESTION; an irrelevant source
   means the search went to the wrong domain and the plan needs replanning.
3. Compare the result against KNOWN FACTS; on contradiction, prefer the more
   authoritative or more recent source, note it in contradiction_details, and
   do not finalize or continue as if nothing happened.
4. If recent steps repeat the same action with the same parameters, do not
   repeat them again.
5. FINALIZE only when the accumulated results actually answer the QUESTION,
   including any required calculation.
6. When in doubt between CONTINUE and REPLAN, pick the one that makes
   progress toward the goal.

Record durable new facts (document codes, section numbers, resolved values)
in updated_scratchpad; remove facts this step disproved.

Respond with YAML matching:

` + decisionSchema + "\n")

	return b.String()
}

func renderResult(res plan.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  step: %d\n  status: %s\n", res.StepNumber, res.Status)
	if res.Source != nil {
		fmt.Fprintf(&b, "  source: %s\n", res.Source.String())
	}
	if o := res.StructuredOutput; o != nil && !o.Empty() {
		fmt.Fprintf(&b, "  extracted: %s = %s %s\n", o.Entity, o.Value, o.Units)
	}
	if res.Summary != "" {
		fmt.Fprintf(&b, "  summary: %s\n", res.Summary)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", res.Error)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
