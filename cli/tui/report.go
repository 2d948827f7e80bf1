package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/airlock/lode"
)

// ReportModel is a Bubble Tea model for an archived scan report.
type ReportModel struct {
	report   lode.ReportRecord
	verdicts []lode.VerdictRecord
	width    int
	height   int
	quitting bool
}

// NewReportModel creates a report model.
func NewReportModel(report lode.ReportRecord, verdicts []lode.VerdictRecord) ReportModel {
	return ReportModel{report: report, verdicts: verdicts}
}

// Init implements tea.Model.
func (m ReportModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m ReportModel) View() string {
	if m.quitting {
		return ""
	}
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return m.renderReport() + "\n" + m.renderVerdicts() + "\n" + help
}

func (m ReportModel) renderReport() string {
	r := m.report
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Scan Report"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Job ID", r.JobID},
		{"Status", r.Status},
		{"Source", r.Source},
		{"Day", r.Day},
		{"Engine", strings.TrimSpace(r.Engine + " " + r.EngineVersion)},
		{"Database", r.DatabaseVersion},
		{"Duration", (time.Duration(r.DurationMs) * time.Millisecond).String()},
	}
	if r.Error != "" {
		rows = append(rows, []string{"Error", r.Error})
	}
	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := ValueStyle.Render(row[1])
		if row[0] == "Status" {
			value = StateStyle(row[1]).Render(row[1])
		}
		fmt.Fprintf(&b, "%s %s\n", label, value)
	}
	b.WriteString("\n")

	boxes := []string{
		renderStatBox("Files", r.Clean+r.Dirty, accentColor),
		renderStatBox("Clean", r.Clean, cleanColor),
		renderStatBox("Dirty", r.Dirty, dirtyColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	return BoxStyle.Render(b.String())
}

// renderVerdicts lists dirty files first; clean files are capped to the
// terminal height.
func (m ReportModel) renderVerdicts() string {
	if len(m.verdicts) == 0 {
		return ""
	}
	var dirty, clean []string
	for _, v := range m.verdicts {
		line := fmt.Sprintf("%s %s", StateStyle(v.Verdict).Render(fmt.Sprintf("%-5s", v.Verdict)), v.Path)
		if v.Verdict == "CLEAN" {
			clean = append(clean, line)
		} else {
			dirty = append(dirty, line)
		}
	}
	lines := dirty
	room := len(clean)
	if m.height > 0 {
		room = max(m.height-len(dirty)-20, 0)
	}
	if room < len(clean) {
		lines = append(lines, clean[:room]...)
		lines = append(lines, HelpStyle.UnsetMarginTop().Render(fmt.Sprintf("... %d more clean files", len(clean)-room)))
	} else {
		lines = append(lines, clean...)
	}
	return strings.Join(lines, "\n")
}

func renderStatBox(label string, value int, color lipgloss.TerminalColor) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunReportTUI runs the report TUI.
func RunReportTUI(report lode.ReportRecord, verdicts []lode.VerdictRecord) error {
	p := tea.NewProgram(NewReportModel(report, verdicts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderReportStatic renders a report without the full TUI.
func RenderReportStatic(report lode.ReportRecord, verdicts []lode.VerdictRecord) string {
	model := NewReportModel(report, verdicts)
	model.width = 80
	return lipgloss.NewStyle().Padding(1, 2).Render(model.renderReport() + "\n" + model.renderVerdicts())
}
