package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"simplify/internal/analysis"
	"simplify/internal/simplify/styles"
	"simplify/internal/ui/colorize"
)

type viewMode int

const (
	viewReport viewMode = iota
	viewMethods
	viewTrace
)

type methodItem struct {
	result analysis.MethodResult
}

func (i methodItem) FilterValue() string { return i.result.Method }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(methodItem)
	if !ok {
		return
	}

	indicator := " "
	nameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	if index == m.Index() {
		indicator = ">"
		nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	}

	status := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(fmt.Sprintf("%3d calls", len(i.result.Findings)))
	switch {
	case i.result.Exhausted:
		status = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("exhausted")
	case !i.result.Simplified():
		status = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("   failed")
	}

	fmt.Fprintf(w, " %s  %s  %s", indicator, status, nameStyle.Render(i.result.Method))
}

type model struct {
	ctx         context.Context
	session     *session
	viewport    viewport.Model
	methodsList list.Model
	traceView   viewport.Model
	spinner     spinner.Model
	mode        viewMode
	report      analysis.Report
	loading     bool
	err         error
	width       int
	height      int
}

type reportMsg struct {
	report analysis.Report
	err    error
}

func analyzeCmd(ctx context.Context, s *session) tea.Cmd {
	return func() tea.Msg {
		r, err := s.analyze(ctx)
		return reportMsg{report: r, err: err}
	}
}

func newBrowser(ctx context.Context, s *session) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	methodsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	methodsList.SetShowStatusBar(false)
	methodsList.SetFilteringEnabled(true)
	methodsList.Title = "Methods"
	methodsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	methodsList.SetShowHelp(true)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	tv := viewport.New()
	tv.SetWidth(80)
	tv.SetHeight(24)

	m := model{
		ctx:         ctx,
		session:     s,
		viewport:    vp,
		methodsList: methodsList,
		traceView:   tv,
		spinner:     sp,
		mode:        viewReport,
		loading:     true,
		width:       80,
		height:      24,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(analyzeCmd(m.ctx, m.session), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case reportMsg:
		m.loading = false
		m.report, m.err = msg.report, msg.err
		items := make([]list.Item, len(m.report.Methods))
		for i, r := range m.report.Methods {
			items[i] = methodItem{result: r}
		}
		cmd = m.methodsList.SetItems(items)
		m.updateContent()
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.methodsList.SetWidth(msg.Width)
			m.methodsList.SetHeight(msg.Height - 2)
			m.traceView.SetWidth(msg.Width)
			m.traceView.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.mode == viewMethods && m.methodsList.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.mode = viewReport
			return m, nil
		case "m":
			if len(m.report.Methods) > 0 {
				m.mode = viewMethods
			}
			return m, nil
		case "enter":
			if m.mode == viewMethods {
				if item, ok := m.methodsList.SelectedItem().(methodItem); ok {
					m.showTrace(item.result)
				}
			}
			return m, nil
		case "tab":
			m.cycle(1)
			return m, nil
		case "shift+tab":
			m.cycle(-1)
			return m, nil
		}
	}

	switch m.mode {
	case viewMethods:
		m.methodsList, cmd = m.methodsList.Update(msg)
	case viewTrace:
		m.traceView, cmd = m.traceView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// cycle moves through report, methods and the last trace. Views without
// content are skipped.
func (m *model) cycle(step int) {
	if len(m.report.Methods) == 0 {
		return
	}
	modes := []viewMode{viewReport, viewMethods}
	if m.traceView.TotalLineCount() > 0 {
		modes = append(modes, viewTrace)
	}
	at := 0
	for i, mode := range modes {
		if mode == m.mode {
			at = i
		}
	}
	m.mode = modes[(at+step+len(modes))%len(modes)]
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewMethods:
		content = m.methodsList.View()
		menu = " Enter: trace • R: report • Tab: cycle • Q: quit "
	case viewTrace:
		content = m.traceView.View()
		menu = " R: report • M: methods • Tab: cycle • Q: quit "
	default:
		content = m.viewport.View()
		if len(m.report.Methods) > 0 {
			menu = " M: methods • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.MenuBar(menu, m.width)
}

func (m *model) updateContent() {
	var md string
	switch {
	case m.loading:
		md = fmt.Sprintf("# Simplify\n\n```\n; %s\n```\n\n%s Analyzing...", strings.Join(m.session.files, "\n; "), m.spinner.View())
	case m.err != nil:
		md = fmt.Sprintf("# Simplify\n\n> %s", m.err)
	default:
		md = markdownReport(m.report)
	}
	m.viewport.SetContent(strings.TrimSuffix(styles.RenderMarkdown(md, m.width-2), "\n"))
}

// showTrace switches to the trace of one method: its report section followed
// by the annotated listing.
func (m *model) showTrace(res analysis.MethodResult) {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(styles.RenderMarkdown(methodMarkdown(res), m.width-2), "\n"))
	b.WriteString("\n\n")
	lines, err := traceLines(m.session.analyzer, res)
	if err != nil {
		b.WriteString(err.Error())
	}
	for _, line := range lines {
		b.WriteString("  ")
		b.WriteString(colorize.InstructionLine(line))
		b.WriteString("\n")
	}
	m.traceView.SetContent(b.String())
	m.traceView.GotoTop()
	m.mode = viewTrace
}
