package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskdeck/taskdeck/dashboard"
	"github.com/taskdeck/taskdeck/task"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62"))

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type tab int

const (
	tabActivity tab = iota
	tabConversations
	tabLog
	tabCount
)

func (t tab) String() string {
	switch t {
	case tabActivity:
		return "Activity"
	case tabConversations:
		return "Conversations"
	case tabLog:
		return "Log"
	}
	return "?"
}

// categories cycled by the filter key, in order.
var categories = []dashboard.Category{
	dashboard.CategoryAll,
	dashboard.CategoryTasks,
	dashboard.CategoryWorkflows,
	dashboard.CategorySystem,
}

type tickMsg time.Time

type submitResultMsg struct {
	created *task.Task
	err     error
}

type pageMsg struct{ err error }

type model struct {
	view      *dashboard.View
	agentType string
	width     int
	height    int

	activeTab tab
	cursor    int

	spin      spinner.Model
	input     textinput.Model
	inputOpen bool

	status    string
	statusErr bool
	quitting  bool
}

func newModel(view *dashboard.View, agentType string) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = `action {"topic":"..."}`
	ti.CharLimit = 512
	ti.Width = 60

	return model{
		view:      view,
		agentType: agentType,
		width:     100,
		height:    30,
		spin:      sp,
		input:     ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spin.Tick)
}

func (m model) tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) submitCmd(action string, input json.RawMessage) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		created, err := m.view.Submit(ctx, action, input)
		return submitResultMsg{created: created, err: err}
	}
}

func (m model) pageCmd(next bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if next {
			return pageMsg{err: m.view.NextPage(ctx)}
		}
		return pageMsg{err: m.view.PreviousPage(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		// Snapshot accessors are cheap; the view polls on its own schedule.
		m.clampCursor()
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case submitResultMsg:
		if msg.err != nil {
			m.status = "submit failed: " + msg.err.Error()
			m.statusErr = true
			// Keep the input so the operator can fix and retry.
			m.inputOpen = true
			return m, nil
		}
		m.status = fmt.Sprintf("task %s submitted", msg.created.ID)
		m.statusErr = false
		m.input.SetValue("")
		return m, nil

	case pageMsg:
		if msg.err != nil {
			m.status = "page load failed: " + msg.err.Error()
			m.statusErr = true
		}
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		if m.inputOpen {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.view.Stop()
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.cursor = 0
		case "shift+tab":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			m.cursor = 0
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			m.cursor++
			m.clampCursor()
		case "enter", " ":
			if m.activeTab == tabActivity {
				entries := m.view.Entries()
				if m.cursor < len(entries) {
					m.view.Select(entries[m.cursor].TaskID)
				}
			}
		case "esc":
			m.view.ClearSelection()
		case "f":
			m.cycleFilter()
			m.cursor = 0
		case "n":
			return m, m.pageCmd(true)
		case "p":
			return m, m.pageCmd(false)
		case "r":
			m.view.Refresh()
			m.status = "refreshing"
			m.statusErr = false
		case "s":
			m.inputOpen = true
			m.input.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.inputOpen = false
		m.input.Blur()
		return m, nil
	case "enter":
		action, payload := parseSubmission(m.input.Value())
		if action == "" {
			m.status = "nothing to submit"
			m.statusErr = true
			return m, nil
		}
		m.inputOpen = false
		m.input.Blur()
		m.status = "submitting " + action
		m.statusErr = false
		return m, m.submitCmd(action, payload)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// parseSubmission splits "action {json...}" into its parts. Everything after
// the first space is the payload, which may be empty.
func parseSubmission(s string) (string, json.RawMessage) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	action, rest, found := strings.Cut(s, " ")
	if !found || strings.TrimSpace(rest) == "" {
		return action, nil
	}
	return action, json.RawMessage(strings.TrimSpace(rest))
}

func (m *model) cycleFilter() {
	current := m.view.Filter()
	for i, c := range categories {
		if c == current {
			m.view.SetFilter(categories[(i+1)%len(categories)])
			return
		}
	}
	m.view.SetFilter(dashboard.CategoryAll)
}

func (m *model) clampCursor() {
	n := 0
	switch m.activeTab {
	case tabActivity:
		n = len(m.view.Entries())
	case tabConversations:
		n = len(m.view.Conversations())
	case tabLog:
		n = len(m.view.Log())
	}
	if n == 0 {
		m.cursor = 0
	} else if m.cursor >= n {
		m.cursor = n - 1
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader() + "\n")
	b.WriteString(m.renderTabs() + "\n")

	switch m.activeTab {
	case tabActivity:
		b.WriteString(m.renderActivity())
	case tabConversations:
		b.WriteString(m.renderConversations())
	case tabLog:
		b.WriteString(m.renderLog())
	}

	if m.inputOpen {
		b.WriteString("\n" + panelStyle.Render("Submit: "+m.input.View()) + "\n")
	}
	b.WriteString("\n" + m.renderStatusBar())
	return b.String()
}

func (m model) renderHeader() string {
	scope := "all agents"
	if agent, ok := m.view.Agent(); ok {
		scope = agent.Name
	} else if m.agentType != "" {
		scope = m.spin.View() + " waiting for agent " + m.agentType
	}

	counts := ""
	if metrics := m.view.Metrics(); metrics != nil {
		counts = fmt.Sprintf("  %d tasks (%d done, %d failed)",
			metrics.TotalTasks,
			metrics.StatusCounts[task.StatusCompleted],
			metrics.StatusCounts[task.StatusFailed])
	}

	last := "no activity yet"
	if t := m.view.LastActivity(); !t.IsZero() {
		last = "last activity " + t.Format("15:04:05")
	}
	return titleStyle.Width(m.width).Render(
		fmt.Sprintf("Taskdeck  %s%s  %s", scope, counts, last))
}

func (m model) renderTabs() string {
	parts := make([]string, 0, int(tabCount))
	for t := tabActivity; t < tabCount; t++ {
		label := t.String()
		if t == tabActivity && m.view.Filter() != dashboard.CategoryAll {
			label += " [" + string(m.view.Filter()) + "]"
		}
		if t == m.activeTab {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func severityStyle(s dashboard.Severity) lipgloss.Style {
	switch s {
	case dashboard.SeveritySuccess:
		return successStyle
	case dashboard.SeverityError:
		return errorStyle
	}
	return pendingStyle
}

func (m model) renderActivity() string {
	entries := m.view.Entries()
	if len(entries) == 0 {
		return panelStyle.Width(m.width - 2).Render(dimStyle.Render("No activity."))
	}

	selected, hasSelection := m.view.Selected()
	var lines []string
	for i, e := range entries {
		line := fmt.Sprintf("%s  %s  %s",
			e.Timestamp,
			severityStyle(e.Severity).Render(fmt.Sprintf("%-10s", e.Bucket)),
			e.Message)
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	out := strings.Join(lines, "\n")

	if hasSelection {
		detail := fmt.Sprintf("Task %s  [%s]\n%s", selected.TaskID, selected.Category, selected.Message)
		if selected.Output != "" {
			detail += "\nOutput: " + selected.Output
		}
		out += "\n\n" + panelStyle.Render(detail)
	}
	return panelStyle.Width(m.width - 2).Render(out)
}

func (m model) renderConversations() string {
	convos := m.view.Conversations()
	w := m.view.Window()
	if len(convos) == 0 {
		return panelStyle.Width(m.width - 2).Render(dimStyle.Render("No completed conversations on this page."))
	}

	var lines []string
	for i, c := range convos {
		title := c.Title
		if title == "" {
			title = c.Action
		}
		line := fmt.Sprintf("%s - %s", title, firstLine(c.Body))
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", dimStyle.Render(
		fmt.Sprintf("page %d/%d (%d tasks)  n/p to page", w.Page, w.TotalPages(), w.Total)))
	return panelStyle.Width(m.width - 2).Render(strings.Join(lines, "\n"))
}

func (m model) renderLog() string {
	logLines := m.view.Log()
	if len(logLines) == 0 {
		return panelStyle.Width(m.width - 2).Render(dimStyle.Render("No recent tasks."))
	}

	var lines []string
	for i, l := range logLines {
		status := string(l.Status)
		if l.Error != "" {
			status += ": " + l.Error
		}
		line := fmt.Sprintf("%s  %-24s %s",
			l.CreatedAt.Format("15:04:05"), l.Action, status)
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return panelStyle.Width(m.width - 2).Render(strings.Join(lines, "\n"))
}

func (m model) renderStatusBar() string {
	help := "tab: switch  j/k: move  enter: select  f: filter  n/p: page  s: submit  r: refresh  q: quit"
	status := m.status
	if status != "" {
		if m.statusErr {
			status = errorStyle.Render(status)
		} else {
			status = successStyle.Render(status)
		}
		return statusBarStyle.Width(m.width).Render(status + "  " + dimStyle.Render(help))
	}
	return statusBarStyle.Width(m.width).Render(help)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}
