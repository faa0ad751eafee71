package replay

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"

	"github.com/normagent/normagent/internal/session"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	pagerHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// Page shows the trail at path in a scrollable pager.
func Page(path string, opts Options) error {
	return runPager(path, opts, false)
}

// Follow pages the trail and reloads it whenever the orchestrator appends
// to the file, so a running session can be watched as it unfolds.
func Follow(path string, opts Options) error {
	return runPager(path, opts, true)
}

func runPager(path string, opts Options, live bool) error {
	r := New(nil, opts)
	render := func() (string, error) {
		tr, err := session.ReadFile(path)
		if err != nil {
			return "", err
		}
		return r.Render(tr), nil
	}

	content, err := render()
	if err != nil {
		return fmt.Errorf("load session trail: %w", err)
	}

	m := &pagerModel{
		title:   filepath.Base(path),
		content: content,
	}
	if live {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", path, err)
		}
		defer watcher.Close()
		m.live = true
		m.render = render
		m.watcher = watcher
	}

	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = prog.Run()
	return err
}

// trailChangedMsg is sent when the watched trail file grows.
type trailChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live    bool
	render  func() (string, error)
	watcher *fsnotify.Watcher

	searching    bool
	searchInput  textinput.Model
	searchQuery  string
	searchLines  []int
	searchIndex  int
	searchFailed bool
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live && m.watcher != nil {
		return m.watchTrail()
	}
	return nil
}

// watchTrail blocks until the trail file is written to. Writes are
// debounced so a burst of appended lines produces one reload.
func (m *pagerModel) watchTrail() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond)
					return trailChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	if m.searching {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			switch msg.String() {
			case "enter":
				m.searchQuery = m.searchInput.Value()
				m.searching = false
				m.executeSearch()
				if len(m.searchLines) > 0 {
					m.jumpToMatch(0)
				}
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.searchQuery = ""
				m.searchLines = nil
				m.searchFailed = false
				return m, nil
			}
		}
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case trailChangedMsg:
		if m.render != nil {
			if content, err := m.render(); err == nil {
				oldOffset := m.viewport.YOffset
				oldLines := m.viewport.TotalLineCount()

				m.content = content
				m.wrapped = wrapContent(m.content, m.viewport.Width)
				m.viewport.SetContent(m.wrapped)

				// Keep the reader's place across the reload.
				newLines := m.viewport.TotalLineCount()
				if oldOffset <= newLines-m.viewport.Height {
					m.viewport.YOffset = oldOffset
				} else if oldOffset > 0 && newLines > oldLines {
					m.viewport.YOffset = oldOffset
				}

				if m.searchQuery != "" {
					m.executeSearch()
				}
			}
		}
		cmds = append(cmds, m.watchTrail())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.searchQuery != "" {
				m.searchQuery = ""
				m.searchLines = nil
				m.searchFailed = false
			} else {
				return m, tea.Quit
			}
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f", "F":
			if m.live {
				m.viewport.GotoBottom()
			}
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.Focus()
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			if m.searchQuery != "" {
				m.searchInput.SetValue(m.searchQuery)
			}
			return m, textinput.Blink
		case "n":
			if len(m.searchLines) > 0 {
				m.searchIndex = (m.searchIndex + 1) % len(m.searchLines)
				m.jumpToMatch(m.searchIndex)
			}
		case "N":
			if len(m.searchLines) > 0 {
				m.searchIndex--
				if m.searchIndex < 0 {
					m.searchIndex = len(m.searchLines) - 1
				}
				m.jumpToMatch(m.searchIndex)
			}
		}

	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.wrapped = wrapContent(m.content, msg.Width)
			m.viewport.SetContent(m.wrapped)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
			m.wrapped = wrapContent(m.content, msg.Width)
			m.viewport.SetContent(m.wrapped)
			// Line numbers shift when the wrap width changes.
			if m.searchQuery != "" {
				m.executeSearch()
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// executeSearch finds all wrapped-content lines containing the query.
func (m *pagerModel) executeSearch() {
	m.searchLines = nil
	m.searchIndex = 0
	m.searchFailed = false

	if m.searchQuery == "" {
		return
	}

	query := strings.ToLower(m.searchQuery)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			m.searchLines = append(m.searchLines, i)
		}
	}
	if len(m.searchLines) == 0 {
		m.searchFailed = true
	}
}

// jumpToMatch centers the given match on screen where possible.
func (m *pagerModel) jumpToMatch(index int) {
	if index < 0 || index >= len(m.searchLines) {
		return
	}
	target := m.searchLines[index] - m.viewport.Height/2
	if target < 0 {
		target = 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		target = 0
	} else if target > maxOffset {
		target = maxOffset
	}
	m.viewport.YOffset = target
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, pagerInfoStyle.Render(line))

	percent := 0
	if m.viewport.TotalLineCount() > 0 {
		percent = int(float64(m.viewport.YOffset) / float64(max(1, m.viewport.TotalLineCount()-m.viewport.Height)) * 100)
	}
	if percent > 100 || m.viewport.TotalLineCount() <= m.viewport.Height {
		percent = 100
	}
	info := fmt.Sprintf(" %d%% ", percent)

	var footer string
	if m.searching {
		prompt := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("/")
		footer = prompt + m.searchInput.View()
	} else {
		var help string
		switch {
		case m.searchFailed:
			notFound := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Pattern not found")
			help = fmt.Sprintf(" %s │ /: search ", notFound)
		case len(m.searchLines) > 0:
			matchInfo := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).
				Render(fmt.Sprintf("[%d/%d]", m.searchIndex+1, len(m.searchLines)))
			help = fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ", matchInfo)
		case m.live:
			liveDot := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render("● LIVE")
			help = fmt.Sprintf(" %s │ q: quit │ /: search │ f: follow │ g/G: top/bottom ", liveDot)
		default:
			help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
		}
		footer = pagerHelpStyle.Render(help) +
			pagerInfoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))) +
			pagerInfoStyle.Render(info)
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapContent wraps long lines to the terminal width. Timeline rows keep
// their column alignment: continuation lines are indented to the content
// column after the last │ separator.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}

	lines := strings.Split(content, "\n")
	var result []string

	for _, line := range lines {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}

		if strings.Contains(line, "│") {
			lastPipe := strings.LastIndex(line, "│")
			pipeEnd := lastPipe + len("│")
			if lastPipe > 0 && pipeEnd < len(line) {
				prefix := line[:pipeEnd]
				prefixWidth := lipgloss.Width(prefix) + 1

				contentWidth := width - prefixWidth
				if contentWidth < 20 {
					contentWidth = 20
				}

				contentStart := pipeEnd
				for contentStart < len(line) && line[contentStart] == ' ' {
					contentStart++
				}

				wrapped := strings.Split(wordwrap.String(line[contentStart:], contentWidth), "\n")
				indent := strings.Repeat(" ", prefixWidth)

				result = append(result, line[:contentStart]+wrapped[0])
				for i := 1; i < len(wrapped); i++ {
					result = append(result, indent+wrapped[i])
				}
				continue
			}
		}

		result = append(result, strings.Split(wordwrap.String(line, width), "\n")...)
	}

	return strings.Join(result, "\n")
}
