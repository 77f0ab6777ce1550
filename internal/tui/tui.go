// Package tui renders a flash run's progress in a terminal using
// bubbletea, grounded on the teacher's own bubbletea/bubbles/lipgloss
// view model (internal/cli/ui) but built around a FlashEvent stream
// instead of a chat session.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flashthing/internal/executor"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	logViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)
)

// NewSink returns a Sink that forwards every event to a channel consumed
// by a Model built with New, plus the receive end of that channel. The
// Sink closes the channel itself after forwarding a Finished or
// Cancelled event. The Sink is invoked synchronously on flash()'s own
// goroutine; the channel holds bufSize events, and when it is full a
// BlockProgress event is dropped while any other event waits for room.
func NewSink(bufSize int) (executor.Sink, <-chan executor.FlashEvent) {
	ch := make(chan executor.FlashEvent, bufSize)
	sink := func(ev executor.FlashEvent) {
		select {
		case ch <- ev:
		default:
			if ev.Kind != executor.EventBlockProgress {
				ch <- ev
			}
		}
		if ev.Kind == executor.EventFinished || ev.Kind == executor.EventCancelled {
			close(ch)
		}
	}
	return sink, ch
}

// eventMsg adapts an executor.FlashEvent into a tea.Msg.
type eventMsg executor.FlashEvent

// Model is the bubbletea model driving the flash progress view. Events
// arrive over a channel so the Executor's own goroutine never blocks on
// the UI (spec §5: the event sink "must not block indefinitely").
type Model struct {
	events   <-chan executor.FlashEvent
	width    int
	height   int
	bar      progress.Model
	log      []string
	total    int
	index    int
	kind     string
	sent     int
	blockTot int
	done     bool
	failed   bool
	err      error
}

// New builds a Model that reads FlashEvents from events until the
// channel closes.
func New(events <-chan executor.FlashEvent) Model {
	return Model{
		events: events,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan executor.FlashEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventMsg{Kind: executor.EventFinished}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = m.width - 4
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		ev := executor.FlashEvent(msg)
		m = m.applyEvent(ev)
		if ev.Kind == executor.EventFinished || ev.Kind == executor.EventCancelled {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m Model) applyEvent(ev executor.FlashEvent) Model {
	switch ev.Kind {
	case executor.EventStarted:
		m.total = ev.TotalSteps
	case executor.EventStepStarted:
		m.index, m.kind = ev.StepIndex, ev.StepKind
		m.sent, m.blockTot = 0, 0
		m.log = append(m.log, fmt.Sprintf("step %d/%d: %s", ev.StepIndex+1, ev.StepTotal, ev.StepKind))
	case executor.EventBlockProgress:
		m.sent, m.blockTot = ev.Sent, ev.Total
	case executor.EventLogEmitted:
		m.log = append(m.log, ev.Message)
	case executor.EventStepCompleted:
		m.log = append(m.log, fmt.Sprintf("step %d complete", ev.StepIndex+1))
	case executor.EventStepFailed:
		m.failed = true
		m.err = ev.Err
		m.log = append(m.log, fmt.Sprintf("step %d failed: %v", ev.StepIndex+1, ev.Err))
	case executor.EventCancelled:
		m.failed = true
		m.log = append(m.log, "cancelled")
	case executor.EventFinished:
		m.done = true
	}
	return m
}

func (m Model) View() string {
	title := " flashthing "
	if m.failed {
		title += "- failed"
	} else if m.done {
		title += "- done"
	}
	header := headerStyle.Width(max(m.width, 40)).Render(title)

	var body strings.Builder
	if m.total > 0 {
		fmt.Fprintf(&body, "step %d/%d: %s\n\n", m.index+1, m.total, m.kind)
	}
	pct := 0.0
	if m.blockTot > 0 {
		pct = float64(m.sent) / float64(m.blockTot)
	}
	body.WriteString(m.bar.ViewAs(pct))
	body.WriteString("\n\n")

	start := 0
	if len(m.log) > 12 {
		start = len(m.log) - 12
	}
	body.WriteString(strings.Join(m.log[start:], "\n"))

	content := logViewStyle.Width(max(m.width-2, 40)).Render(body.String())

	footer := ""
	if m.failed {
		footer = footerStyle.Render(errStyle.Render(fmt.Sprintf("error: %v", m.err)))
	} else if m.done {
		footer = footerStyle.Render(okStyle.Render("flash complete"))
	} else {
		footer = footerStyle.Render("ctrl+c to cancel")
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
