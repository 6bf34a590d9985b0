package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/volvotools/vagdiag/internal/logger"
)

// sampleMsg wraps one decoded logger sample for delivery through
// tea.Program.Send from the logger's dispatcher goroutine (ui.go's
// ServerReadyMsg/updateResourceDataMsg pattern: external events become
// tea.Msg values pushed into Update, not polled from View).
type sampleMsg logger.LogRecord

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))
)

// model renders one row per subscribed parameter, updated in place as
// sampleMsg values arrive (SPEC_FULL §6 "a live-updating table of
// parameter name/value/unit").
type model struct {
	params     []logger.LogParameter
	table      table.Model
	lastSample time.Time
	samples    int
}

func newModel(params []logger.LogParameter) model {
	columns := []table.Column{
		{Title: "Parameter", Width: 28},
		{Title: "Value", Width: 14},
		{Title: "Unit", Width: 8},
		{Title: "Address", Width: 10},
	}

	rows := make([]table.Row, len(params))
	for i, p := range params {
		rows[i] = table.Row{p.Name, "--", p.Unit, fmt.Sprintf("0x%08X", p.Address)}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#2563EB"))
	t.SetStyles(styles)

	return model{params: params, table: t}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case sampleMsg:
		m.applySample(logger.LogRecord(msg))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) applySample(rec logger.LogRecord) {
	decoded := logger.DecodeRecord(m.params, rec)
	rows := make([]table.Row, len(m.params))
	for i, p := range m.params {
		value := "--"
		if i < len(decoded) {
			value = fmt.Sprintf("%.3f", decoded[i])
		}
		rows[i] = table.Row{p.Name, value, p.Unit, fmt.Sprintf("0x%08X", p.Address)}
	}
	m.table.SetRows(rows)
	m.lastSample = time.Now()
	m.samples++
}

func (m model) View() string {
	header := headerStyle.Render("vagdiag monitor")
	footer := footerStyle.Render(fmt.Sprintf("samples: %d   last: %s   q to quit", m.samples, m.lastSampleLabel()))
	return fmt.Sprintf("%s\n%s\n%s\n", header, m.table.View(), footer)
}

func (m model) lastSampleLabel() string {
	if m.lastSample.IsZero() {
		return "waiting for first sample..."
	}
	return m.lastSample.Format("15:04:05.000")
}
