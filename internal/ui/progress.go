// Package ui renders install and compile progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"crbs/internal/pipeline"
)

type progressModel struct {
	title      string
	stages     []pipeline.Stage
	events     <-chan pipeline.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []subjectItem
	index      map[string]int
	stageLabel string
	width      int
	done       bool
}

type subjectItem struct {
	name   string
	status string
	stage  pipeline.Stage
	failed bool
}

type eventMsg pipeline.Event
type doneMsg struct{}

// InstallStages is the stage order of a toolchain install.
var InstallStages = []pipeline.Stage{
	pipeline.StageDownload,
	pipeline.StageVerify,
	pipeline.StageExtract,
	pipeline.StageRegister,
}

// CompileStages is the stage order of a compile.
var CompileStages = []pipeline.Stage{
	pipeline.StageCompile,
	pipeline.StageParse,
}

// NewProgressModel returns a Bubble Tea model that renders one line per
// subject and an overall bar. stages gives the order used to weight the bar.
// The model quits when events is closed.
func NewProgressModel(title string, subjects []string, stages []pipeline.Stage, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]subjectItem, 0, len(subjects))
	index := make(map[string]int, len(subjects))
	for i, s := range subjects {
		items = append(items, subjectItem{name: s, status: "queued"})
		index[s] = i
	}
	return &progressModel{
		title:   title,
		stages:  stages,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(pipeline.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	const statusWidth = 12
	nameWidth := max(m.width-statusWidth-4, 20)
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%*s", statusWidth, item.status))
		fmt.Fprintf(&b, "  %s %s\n", status, truncate(item.name, nameWidth))
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev pipeline.Event) tea.Cmd {
	label := statusLabel(ev.Stage, ev.Status)
	if ev.Subject == "" {
		if label != "" {
			m.stageLabel = label
		}
		return nil
	}
	idx, ok := m.index[ev.Subject]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	if item.failed {
		return nil
	}
	if label != "" {
		item.status = label
		item.stage = ev.Stage
	}
	if ev.Status == pipeline.StatusError {
		item.failed = true
	}
	return m.prog.SetPercent(m.percent())
}

// percent weights each subject by how far through the stage list it is.
func (m *progressModel) percent() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		total += m.fraction(item)
	}
	return total / float64(len(m.items))
}

func (m *progressModel) fraction(item subjectItem) float64 {
	if item.failed {
		return 1
	}
	pos := -1
	for i, st := range m.stages {
		if st == item.stage {
			pos = i
			break
		}
	}
	if pos < 0 || len(m.stages) == 0 {
		return 0
	}
	if item.status == "done" {
		return float64(pos+1) / float64(len(m.stages))
	}
	return float64(pos) / float64(len(m.stages))
}

func statusLabel(stage pipeline.Stage, status pipeline.Status) string {
	switch status {
	case pipeline.StatusQueued:
		return "queued"
	case pipeline.StatusError:
		return "error"
	case pipeline.StatusDone:
		return "done"
	case pipeline.StatusWorking:
		return stageLabel(stage)
	default:
		return ""
	}
}

func stageLabel(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageResolve:
		return "resolving"
	case pipeline.StageDownload:
		return "downloading"
	case pipeline.StageVerify:
		return "verifying"
	case pipeline.StageExtract:
		return "extracting"
	case pipeline.StageRegister:
		return "registering"
	case pipeline.StageCompile:
		return "compiling"
	case pipeline.StageParse:
		return "parsing"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "queued", "":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
