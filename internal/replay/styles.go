package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// palette carries every style the renderer uses. The plain palette keeps
// output byte-identical to the text, for piped output and tests.
type palette struct {
	dim    lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	title  lipgloss.Style
	seq    lipgloss.Style
	clock  lipgloss.Style
	status lipgloss.Style

	success lipgloss.Style
	partial lipgloss.Style
	missing lipgloss.Style
	failure lipgloss.Style

	verdictContinue lipgloss.Style
	verdictReplan   lipgloss.Style
	verdictFinalize lipgloss.Style
	verdictReview   lipgloss.Style
}

func colorPalette() palette {
	return palette{
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		value:  lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		seq:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(5).Align(lipgloss.Right),
		clock:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		status: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),

		success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		partial: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		missing: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),

		verdictContinue: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		verdictReplan:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		verdictFinalize: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		verdictReview:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// plainPalette renders without any styling.
func plainPalette() palette {
	var p palette
	p.seq = lipgloss.NewStyle().Width(5).Align(lipgloss.Right)
	return p
}

func (p palette) divider() string {
	return p.dim.Render(strings.Repeat("━", 60))
}
