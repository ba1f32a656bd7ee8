package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// consoleTheme centralizes styling for console output. One default theme, but
// keeping colors in one place makes alternatives trivial.
type consoleTheme struct {
	Queued   lipgloss.Style
	Running  lipgloss.Style
	Done     lipgloss.Style
	Failed   lipgloss.Style
	Cached   lipgloss.Style
	Class    lipgloss.Style
	TaskName lipgloss.Style
}

func defaultConsoleTheme() consoleTheme {
	return consoleTheme{
		Queued:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Running:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Done:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Cached:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Class:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")),
		TaskName: lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")),
	}
}

// ConsoleReporter prints one styled line per lifecycle transition. Suitable
// for interactive runs without the full monitor.
type ConsoleReporter struct {
	mu    sync.Mutex
	out   io.Writer
	theme consoleTheme
}

// NewConsoleReporter writes styled progress lines to out.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out, theme: defaultConsoleTheme()}
}

func (r *ConsoleReporter) TaskQueued(e Event) {
	r.line(r.theme.Queued.Render("·"), e, "")
}

func (r *ConsoleReporter) TaskStarted(e Event) {
	r.line(r.theme.Running.Render("▸"), e, "")
}

func (r *ConsoleReporter) TaskFinished(e Event) {
	switch {
	case e.Err != "":
		r.line(r.theme.Failed.Render("✗"), e, r.theme.Failed.Render(e.Err))
	case e.Cached:
		r.line(r.theme.Cached.Render("≡"), e, r.theme.Cached.Render("(cached)"))
	default:
		r.line(r.theme.Done.Render("✓"), e, "")
	}
}

func (r *ConsoleReporter) line(mark string, e Event, suffix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := fmt.Sprintf("%s %s %s", mark,
		r.theme.Class.Render(string(e.Class)),
		r.theme.TaskName.Render(e.Name))
	if suffix != "" {
		text += " " + suffix
	}
	fmt.Fprintln(r.out, text)
}
