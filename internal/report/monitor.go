package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const monitorEventLogSize = 12

// Monitor is a live terminal view of dispatcher activity, fed from a Reporter
// over a channel. Run it in its own goroutine with tea.NewProgram.
type Monitor struct {
	width  int
	height int

	events   chan stagedEvent
	inflight map[string]Event
	counts   map[JobClass]classCount
	eventLog []Event
	lastTick time.Time

	theme monitorTheme
}

type classCount struct {
	Queued   int
	Finished int
	Failed   int
	Cached   int
}

type monitorTheme struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
	Running lipgloss.Style
	Done    lipgloss.Style
	Failed  lipgloss.Style
	Border  lipgloss.Style
}

func newMonitorTheme() monitorTheme {
	return monitorTheme{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1),
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")),
	}
}

// NewMonitor creates the model. Feed is the Reporter to hand to the
// dispatcher; it forwards events into the model.
func NewMonitor() (*Monitor, Reporter) {
	m := &Monitor{
		events:   make(chan stagedEvent, 256),
		inflight: make(map[string]Event),
		counts:   make(map[JobClass]classCount),
		theme:    newMonitorTheme(),
	}
	return m, &monitorFeed{events: m.events}
}

// monitorFeed is the Reporter side of the monitor. The stage rides along so
// one channel carries all three hooks.
type monitorFeed struct {
	events chan stagedEvent
}

type stagedEvent struct {
	Event
	stage string
}

func (f *monitorFeed) send(e Event, stage string) {
	select {
	case f.events <- stagedEvent{Event: e, stage: stage}:
	default:
		// Dropping UI events is preferable to blocking the dispatcher.
	}
}

func (f *monitorFeed) TaskQueued(e Event)   { f.send(e, "queued") }
func (f *monitorFeed) TaskStarted(e Event)  { f.send(e, "started") }
func (f *monitorFeed) TaskFinished(e Event) { f.send(e, "finished") }

type eventMsg stagedEvent
type tickMsg time.Time

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(
		m.receiveNext(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Monitor) receiveNext() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.apply(stagedEvent(msg))
		return m, m.receiveNext()
	}

	return m, nil
}

func (m *Monitor) apply(se stagedEvent) {
	e := se.Event

	count := m.counts[e.Class]
	switch se.stage {
	case "queued":
		count.Queued++
	case "started":
		m.inflight[e.TaskID] = e
	case "finished":
		delete(m.inflight, e.TaskID)
		count.Finished++
		if e.Err != "" {
			count.Failed++
		}
		if e.Cached {
			count.Cached++
		}
	}
	m.counts[e.Class] = count

	m.eventLog = append(m.eventLog, e)
	if len(m.eventLog) > monitorEventLogSize {
		m.eventLog = m.eventLog[len(m.eventLog)-monitorEventLogSize:]
	}
}

func (m *Monitor) View() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("quarry dispatcher"))
	b.WriteString("\n\n")

	b.WriteString(m.theme.Header.Render(fmt.Sprintf("%-12s %8s %8s %8s %8s", "class", "queued", "done", "failed", "cached")))
	b.WriteString("\n")

	classes := make([]string, 0, len(m.counts))
	for class := range m.counts {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	for _, class := range classes {
		count := m.counts[JobClass(class)]
		b.WriteString(fmt.Sprintf("%-12s %8d %8d %8d %8d\n",
			class, count.Queued, count.Finished, count.Failed, count.Cached))
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Header.Render(fmt.Sprintf("running (%d)", len(m.inflight))))
	b.WriteString("\n")
	running := make([]Event, 0, len(m.inflight))
	for _, e := range m.inflight {
		running = append(running, e)
	}
	sort.Slice(running, func(i, j int) bool { return running[i].TaskID < running[j].TaskID })
	for _, e := range running {
		b.WriteString(m.theme.Running.Render(fmt.Sprintf("  ▸ %s %s", e.Class, e.Name)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Header.Render("recent"))
	b.WriteString("\n")
	for _, e := range m.eventLog {
		style := m.theme.Dim
		if e.Err != "" {
			style = m.theme.Failed
		}
		b.WriteString(style.Render(fmt.Sprintf("  %s %s", e.Class, e.Name)))
		b.WriteString("\n")
	}

	return m.theme.Border.Render(b.String())
}
