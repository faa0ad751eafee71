package finalizer

import (
	"fmt"
	"strings"

	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

const systemPrompt = `You compose the final answer of an agent that researches normative
documents (codes, standards, regulations). You only restate what the
confirmed findings support; you never introduce documents or values that
are not listed.

Respond with YAML only. No prose outside the YAML document.`

const answerSchema = `analysis: >
  <the direct answer to the question, with concrete values, units and the
  conditions under which they apply>
sources:
  - document: <document code or name, exactly as listed in the findings>
    locator: <section, clause or table within it>
limitations: <what the findings do not cover, or an empty string>
recommendations: <practical next steps for the reader, or an empty string>`

func buildAnswerPrompt(st *state.State, successes []plan.StepResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", st.Query())

	if len(successes) == 0 {
		b.WriteString("CONFIRMED FINDINGS: none. State plainly that the research did not\n")
		b.WriteString("produce a confirmed answer and say so in the limitations.\n\n")
	} else {
		b.WriteString("CONFIRMED FINDINGS:\n")
		for i, res := range successes {
			fmt.Fprintf(&b, "%d. ", i+1)
			if res.Source != nil {
				fmt.Fprintf(&b, "[%s] ", res.Source.String())
			}
			if o := res.StructuredOutput; o != nil && !o.Empty() {
				fmt.Fprintf(&b, "%s = %s %s; ", o.Entity, o.Value, o.Units)
				if o.Conditions != "" {
					fmt.Fprintf(&b, "applies when %s; ", o.Conditions)
				}
			}
			b.WriteString(firstLine(res.Summary))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "KNOWN FACTS (scratchpad):\n%s\n\n", st.Scratchpad().Render())

	b.WriteString(`Write the final answer. Cite only documents that appear in the
CONFIRMED FINDINGS above. If findings conflict, present the governing one
and mention the conflict in the limitations.

Respond with YAML matching:

` + answerSchema + "\n")

	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
