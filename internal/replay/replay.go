// Package replay renders recorded session trails for inspection. A trail
// is replayed either as a one-shot dump, inside a scrollable pager, or in
// follow mode where the pager reloads as the orchestrator appends events.
package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/session"
)

const (
	labelWidth   = 8
	summaryWidth = 96
)

// Options controls rendering.
type Options struct {
	// Plain disables ANSI styling, for piped output.
	Plain bool
	// Verbose includes judge reasoning and untruncated summaries.
	Verbose bool
}

// Replayer turns a session trail into a readable timeline.
type Replayer struct {
	out     io.Writer
	pal     palette
	verbose bool
}

func New(out io.Writer, opts Options) *Replayer {
	pal := colorPalette()
	if opts.Plain {
		pal = plainPalette()
	}
	return &Replayer{out: out, pal: pal, verbose: opts.Verbose}
}

// Print renders the trail at path to the replayer's writer.
func (r *Replayer) Print(path string) error {
	tr, err := session.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load session trail: %w", err)
	}
	_, err = io.WriteString(r.out, r.Render(tr))
	return err
}

// Render produces the full styled text for one trail.
func (r *Replayer) Render(tr *session.Trace) string {
	var b strings.Builder
	r.renderHeader(&b, tr)
	r.renderTimeline(&b, tr)
	r.renderStats(&b, tr)
	r.renderOutcome(&b, tr)
	return b.String()
}

func (r *Replayer) renderHeader(b *strings.Builder, tr *session.Trace) {
	b.WriteString(r.pal.title.Render("SESSION "+tr.SessionID) + "\n")
	b.WriteString(r.pal.divider() + "\n")
	r.field(b, "Query", tr.Query)
	if !tr.StartedAt.IsZero() {
		r.field(b, "Started", tr.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	status := tr.Status
	if status == "" {
		status = "running"
	}
	b.WriteString(r.pal.label.Render(pad("Status", labelWidth)) + " " + r.statusStyle(status).Render(status) + "\n")
	b.WriteString("\n")
}

func (r *Replayer) field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(r.pal.label.Render(pad(label, labelWidth)) + " " + r.pal.value.Render(value) + "\n")
}

func (r *Replayer) renderTimeline(b *strings.Builder, tr *session.Trace) {
	b.WriteString(r.pal.title.Render(fmt.Sprintf("TIMELINE (%d events)", len(tr.Events))) + "\n")
	b.WriteString(r.pal.divider() + "\n")
	for _, ev := range tr.Events {
		r.renderEvent(b, ev)
	}
	b.WriteString("\n")
}

func (r *Replayer) renderEvent(b *strings.Builder, ev session.Record) {
	switch ev.Event {
	case session.EventStatus:
		r.eventLine(b, ev, "STATUS", r.statusStyle(ev.From).Render(ev.From)+r.pal.dim.Render(" > ")+r.statusStyle(ev.To).Render(ev.To))
	case session.EventPlan:
		r.eventLine(b, ev, "PLAN", r.pal.value.Render(r.truncate(ev.Goal))+r.pal.dim.Render(fmt.Sprintf(" (%d steps)", ev.Steps)))
	case session.EventStep:
		r.renderStep(b, ev)
	case session.EventDecision:
		r.renderDecision(b, ev)
	case session.EventReplan:
		body := r.pal.verdictReplan.Render(ev.Strategy) + r.pal.dim.Render(fmt.Sprintf(" (%d steps)", ev.Steps))
		r.eventLine(b, ev, "REPLAN", body)
		if ev.Goal != "" {
			r.contLine(b, r.pal.value.Render(r.truncate(ev.Goal)))
		}
	default:
		r.eventLine(b, ev, strings.ToUpper(ev.Event), "")
	}
}

func (r *Replayer) renderStep(b *strings.Builder, ev session.Record) {
	label := "STEP"
	tool := ""
	if ev.Step != nil {
		label = fmt.Sprintf("STEP %d", ev.Step.Number)
		tool = string(ev.Step.Tool)
	}
	if ev.Result == nil {
		r.eventLine(b, ev, label, r.pal.dim.Render(tool))
		return
	}
	res := ev.Result
	body := r.resultStyle(res.Status).Render(string(res.Status))
	if tool != "" {
		body = r.pal.dim.Render(tool+" ") + body
	}
	if res.Summary != "" {
		body += r.pal.value.Render(": " + r.truncate(res.Summary))
	}
	r.eventLine(b, ev, label, body)
	if res.Source != nil {
		r.contLine(b, r.pal.dim.Render("source ")+r.pal.value.Render(res.Source.String()))
	}
	if so := res.StructuredOutput; so != nil && !so.Empty() {
		v := so.Value
		if so.Units != "" {
			v += " " + so.Units
		}
		if v != "" {
			r.contLine(b, r.pal.dim.Render("value ")+r.pal.value.Render(v))
		}
	}
	if res.Error != "" {
		r.contLine(b, r.pal.failure.Render(r.truncate(res.Error)))
	}
}

func (r *Replayer) renderDecision(b *strings.Builder, ev session.Record) {
	d := ev.Decision
	if d == nil {
		r.eventLine(b, ev, "VERDICT", "")
		return
	}
	body := r.verdictStyle(d.Verdict).Render(string(d.Verdict))
	body += r.pal.dim.Render(fmt.Sprintf("  relevance %.2f, consistency %.2f", d.Scores.SourceRelevance, d.Scores.ContextConsistency))
	if d.IsLoopDetected {
		body += " " + r.pal.partial.Render("[loop]")
	}
	r.eventLine(b, ev, "VERDICT", body)
	if ri := d.ReplanInstructions; ri != nil {
		r.contLine(b, r.pal.dim.Render("strategy ")+r.pal.value.Render(string(ri.Strategy)))
	}
	if d.ContradictionDetails != "" {
		r.contLine(b, r.pal.failure.Render("contradiction: ")+r.pal.value.Render(r.truncate(d.ContradictionDetails)))
	}
	if d.HumanReviewReason != "" {
		r.contLine(b, r.pal.failure.Render(r.truncate(d.HumanReviewReason)))
	}
	if r.verbose && d.Reasoning != "" {
		r.contLine(b, r.pal.dim.Render(d.Reasoning))
	}
}

func (r *Replayer) renderStats(b *strings.Builder, tr *session.Trace) {
	var steps, replans int
	byResult := map[plan.ResultStatus]int{}
	byVerdict := map[decision.Verdict]int{}
	for _, ev := range tr.Events {
		switch ev.Event {
		case session.EventStep:
			steps++
			if ev.Result != nil {
				byResult[ev.Result.Status]++
			}
		case session.EventDecision:
			if ev.Decision != nil {
				byVerdict[ev.Decision.Verdict]++
			}
		case session.EventReplan:
			replans++
		}
	}
	if steps == 0 && replans == 0 && len(byVerdict) == 0 {
		return
	}
	b.WriteString(r.pal.divider() + "\n")
	var parts []string
	for _, st := range []plan.ResultStatus{plan.ResultSuccess, plan.ResultPartial, plan.ResultNotFound, plan.ResultError} {
		if n := byResult[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	line := fmt.Sprintf("%d executed", steps)
	if len(parts) > 0 {
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	r.field(b, "Steps", line)
	parts = parts[:0]
	for _, v := range []decision.Verdict{decision.VerdictContinue, decision.VerdictReplan, decision.VerdictFinalize, decision.VerdictHumanReview} {
		if n := byVerdict[v]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, v))
		}
	}
	if len(parts) > 0 {
		r.field(b, "Verdicts", strings.Join(parts, ", "))
	}
	if replans > 0 {
		r.field(b, "Replans", fmt.Sprintf("%d", replans))
	}
	b.WriteString("\n")
}

func (r *Replayer) renderOutcome(b *strings.Builder, tr *session.Trace) {
	b.WriteString(r.pal.divider() + "\n")
	if !tr.Ended() {
		b.WriteString(r.pal.partial.Render("RUNNING") + r.pal.dim.Render("  trail has no footer yet") + "\n")
		return
	}
	head := strings.ToUpper(strings.ReplaceAll(tr.Status, "_", " "))
	line := r.statusStyle(tr.Status).Render(head)
	if !tr.EndedAt.IsZero() && !tr.StartedAt.IsZero() {
		line += r.pal.dim.Render("  " + tr.EndedAt.Sub(tr.StartedAt).Round(time.Millisecond).String())
	}
	b.WriteString(line + "\n")
	if tr.Reason != "" {
		b.WriteString(r.pal.value.Render(tr.Reason) + "\n")
	}
	if tr.Error != "" {
		b.WriteString(r.pal.failure.Render(tr.Error) + "\n")
	}
	if a := tr.Answer; a != nil {
		b.WriteString("\n" + r.pal.value.Render(a.Analysis) + "\n")
		if len(a.Sources) > 0 {
			b.WriteString("\n" + r.pal.label.Render("Sources") + "\n")
			for _, s := range a.Sources {
				b.WriteString("  " + r.pal.value.Render(s.String()) + "\n")
			}
		}
		if a.Limitations != "" {
			b.WriteString("\n" + r.pal.label.Render("Limitations") + " " + r.pal.value.Render(a.Limitations) + "\n")
		}
		if a.Recommendations != "" {
			b.WriteString(r.pal.label.Render("Recommendations") + " " + r.pal.value.Render(a.Recommendations) + "\n")
		}
	}
}

// eventLine writes one "  seq │ hh:mm:ss │ LABEL body" timeline row.
func (r *Replayer) eventLine(b *strings.Builder, ev session.Record, label, body string) {
	b.WriteString(r.pal.seq.Render(fmt.Sprintf("%d", ev.Seq)))
	b.WriteString(r.pal.dim.Render(" │ "))
	b.WriteString(r.pal.clock.Render(ev.Timestamp.Local().Format("15:04:05")))
	b.WriteString(r.pal.dim.Render(" │ "))
	b.WriteString(r.pal.title.Render(pad(label, labelWidth)))
	if body != "" {
		b.WriteString(" " + body)
	}
	b.WriteString("\n")
}

// contLine writes a continuation row aligned under the body column.
func (r *Replayer) contLine(b *strings.Builder, body string) {
	b.WriteString(strings.Repeat(" ", 5))
	b.WriteString(r.pal.dim.Render(" │ "))
	b.WriteString(strings.Repeat(" ", 8))
	b.WriteString(r.pal.dim.Render(" │ "))
	b.WriteString(strings.Repeat(" ", labelWidth+1))
	b.WriteString(body + "\n")
}

func (r *Replayer) truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r.verbose {
		return s
	}
	runes := []rune(s)
	if len(runes) <= summaryWidth {
		return s
	}
	return string(runes[:summaryWidth-3]) + "..."
}

func (r *Replayer) statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return r.pal.success
	case "error":
		return r.pal.failure
	case "human_review":
		return r.pal.verdictReview
	case "running":
		return r.pal.partial
	default:
		return r.pal.status
	}
}

func (r *Replayer) resultStyle(st plan.ResultStatus) lipgloss.Style {
	switch st {
	case plan.ResultSuccess:
		return r.pal.success
	case plan.ResultPartial, plan.ResultNotFound:
		return r.pal.partial
	case plan.ResultError:
		return r.pal.failure
	default:
		return r.pal.value
	}
}

func (r *Replayer) verdictStyle(v decision.Verdict) lipgloss.Style {
	switch v {
	case decision.VerdictContinue:
		return r.pal.verdictContinue
	case decision.VerdictReplan:
		return r.pal.verdictReplan
	case decision.VerdictFinalize:
		return r.pal.verdictFinalize
	case decision.VerdictHumanReview:
		return r.pal.verdictReview
	default:
		return r.pal.value
	}
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
