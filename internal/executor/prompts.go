package executor

import (
	"fmt"
	"strings"

	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

const extractSystemPrompt = `You extract one concrete fact from search results over normative
documents. You only report what the text actually states; if the wanted
value is not there, you say so.

Respond with YAML only. No prose outside the YAML document.`

const extractSchema = `found: true | false
entity: <what the value describes>
value: <the value exactly as stated, digits and decimal separator kept>
units: <its units, or an empty string>
source_reference: <document and clause the value comes from>
conditions: <when the value applies, or an empty string>`

func buildExtractPrompt(step plan.Step, resultText string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "STEP OBJECTIVE:\n%s\n\n", step.Action)
	if step.OutputVariable != "" {
		fmt.Fprintf(&b, "WANTED VALUE: %s\n\n", step.OutputVariable)
	}
	if step.ValidationCriteria != "" {
		fmt.Fprintf(&b, "ACCEPTANCE: %s\n\n", step.ValidationCriteria)
	}
	fmt.Fprintf(&b, "SEARCH RESULTS:\n%s\n\n", resultText)

	b.WriteString("Extract the single value that answers the objective. Respond with YAML matching:\n\n")
	b.WriteString(extractSchema)
	b.WriteString("\n")
	return b.String()
}

const reasonSystemPrompt = `You carry out one reasoning step inside an agent that answers
questions about normative documents. You work only from the facts given;
you never invent document references.

Respond with YAML only. No prose outside the YAML document.`

const reasonSchema = `summary: <what this step concluded, two to four sentences>
structured_output:            # only when the step yields a concrete value
  entity: <what the value describes>
  value: <the value>
  units: <its units, or an empty string>
  source_reference: <which earlier finding it derives from>
  conditions: <when it applies, or an empty string>`

func buildReasonPrompt(st *state.State, step plan.Step) string {
	var b strings.Builder

	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", st.Query())
	fmt.Fprintf(&b, "STEP TO PERFORM:\n%s\n", step.Action)
	if step.Reasoning != "" {
		fmt.Fprintf(&b, "WHY THIS STEP: %s\n", step.Reasoning)
	}
	b.WriteString("\n")

	if successes := st.SuccessfulResults(); len(successes) > 0 {
		b.WriteString("EARLIER FINDINGS:\n")
		for i, res := range successes {
			fmt.Fprintf(&b, "%d. ", i+1)
			if res.Source != nil {
				fmt.Fprintf(&b, "[%s] ", res.Source.String())
			}
			if o := res.StructuredOutput; o != nil && !o.Empty() {
				fmt.Fprintf(&b, "%s = %s %s; ", o.Entity, o.Value, o.Units)
			}
			b.WriteString(firstLine(res.Summary))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "KNOWN FACTS (scratchpad):\n%s\n\n", st.Scratchpad().Render())

	b.WriteString("Perform the step. Respond with YAML matching:\n\n")
	b.WriteString(reasonSchema)
	b.WriteString("\n")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
