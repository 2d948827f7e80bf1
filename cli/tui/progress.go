package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/types"
)

// maxLogLines bounds the milestone lines kept under the progress bar.
const maxLogLines = 6

// ErrInterrupted is returned when the user quits before the operation ends.
var ErrInterrupted = errors.New("interrupted before the operation finished")

// errTruncated is reported when the stream ends without a terminal event.
var errTruncated = errors.New("stream ended before the operation finished")

// NextFunc yields stream events; io.EOF marks the end of the stream.
type NextFunc func() (types.Event, error)

// EventMsg carries one stream event into the model.
type EventMsg types.Event

// StreamClosedMsg reports that the event source stopped.
type StreamClosedMsg struct {
	Err error
}

// ProgressModel is a Bubble Tea model following one device operation stream.
type ProgressModel struct {
	title    string
	next     NextFunc
	bar      progress.Model
	last     types.Event
	lines    []string
	done     bool
	err      error
	quitting bool
}

// NewProgressModel creates a progress model reading events from next.
func NewProgressModel(title string, next NextFunc) ProgressModel {
	return ProgressModel{
		title: title,
		next:  next,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
	}
}

func waitEvent(next NextFunc) tea.Cmd {
	return func() tea.Msg {
		ev, err := next()
		if err != nil {
			return StreamClosedMsg{Err: err}
		}
		return EventMsg(ev)
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return waitEvent(m.next)
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 80)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case EventMsg:
		ev := types.Event(msg)
		m.last = ev
		if !isProgress(ev.Status) {
			m.lines = append(m.lines, render.EventLine(ev))
			if len(m.lines) > maxLogLines {
				m.lines = m.lines[len(m.lines)-maxLogLines:]
			}
		}
		if ev.Status == types.EventError {
			m.err = errors.New(ev.Message)
		}
		if ev.Status.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitEvent(m.next)

	case StreamClosedMsg:
		if !m.done {
			m.done = true
			m.err = msg.Err
			if errors.Is(msg.Err, io.EOF) {
				m.err = errTruncated
			}
		}
		return m, tea.Quit
	}

	return m, nil
}

func isProgress(s types.EventStatus) bool {
	switch s {
	case types.EventCopyProgress, types.EventUploadProgress, types.EventWipeProgress, types.EventImageProgress:
		return true
	default:
		return false
	}
}

// Percent returns the completion ratio of the current phase.
func (m ProgressModel) Percent() float64 {
	if m.done && m.err == nil {
		return 1
	}
	if m.last.Total == 0 {
		return 0
	}
	return min(float64(m.last.Current)/float64(m.last.Total), 1)
}

// Result returns the last event and the operation error, if any.
func (m ProgressModel) Result() (types.Event, error) {
	if m.quitting && !m.done {
		return m.last, ErrInterrupted
	}
	return m.last, m.err
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n")
	if m.last.Total > 0 {
		b.WriteString(LabelStyle.Render(string(m.last.Status)))
		b.WriteString(ValueStyle.Render(fmt.Sprintf("%d / %d", m.last.Current, m.last.Total)))
		b.WriteString("\n")
	}
	for _, line := range m.lines {
		b.WriteString(HelpStyle.UnsetMarginTop().Render(line))
		b.WriteString("\n")
	}

	switch {
	case m.done && m.err != nil:
		b.WriteString(ErrorStyle.Render("failed: " + m.err.Error()))
		b.WriteString("\n")
	case m.done:
		b.WriteString(SuccessStyle.Render("done"))
		b.WriteString("\n")
	case !m.quitting:
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to stop watching"))
	}
	return b.String()
}

// RunProgress follows a stream until its terminal event and returns it.
func RunProgress(title string, next NextFunc) (types.Event, error) {
	p := tea.NewProgram(NewProgressModel(title, next))
	final, err := p.Run()
	if err != nil {
		return types.Event{}, err
	}
	return final.(ProgressModel).Result()
}
