package ui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nodeops/healthagent/cmd/healthtop/internal/theme"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.rebuildTable()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, fetchStatus(m.client)
		}

	case statusMsg:
		m.lastErr = msg.err
		m.connected = msg.err == nil
		if msg.err == nil {
			m.rows = rowsFromStatus(msg.status)
			m.rebuildTable()
		}

	case tickMsg:
		cmds = append(cmds, fetchStatus(m.client), tickCmd())
	}

	if m.ready {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) rebuildTable() {
	columns := []table.Column{
		{Title: "Monitor", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Description", Width: 40},
		{Title: "Last Update", Width: 25},
	}

	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, table.Row{r.name, r.status, r.description, r.lastUpdate})
	}

	h := m.height - 4
	if h < 5 {
		h = 5
	}
	m.table = table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(h),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.Foreground(theme.Default.Text).Bold(true)
	s.Selected = s.Selected.Foreground(theme.Default.Text)
	m.table.SetStyles(s)
}
