package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nodeops/healthagent/cmd/healthtop/internal/theme"
)

func (m Model) View() string {
	if !m.ready {
		return "loading...\n"
	}

	t := theme.Default
	statusStyle := lipgloss.NewStyle().Foreground(t.OK)
	if !m.connected {
		statusStyle = lipgloss.NewStyle().Foreground(t.Error)
	}

	header := lipgloss.NewStyle().Bold(true).Render("healthtop")
	conn := "connected"
	if !m.connected {
		conn = "disconnected"
		if m.lastErr != nil {
			conn = fmt.Sprintf("disconnected: %v", m.lastErr)
		}
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, header, "  ", statusStyle.Render(conn))
	footer := lipgloss.NewStyle().Foreground(t.Dim).Render("q quit · r refresh")

	return lipgloss.JoinVertical(lipgloss.Left, top, "", m.table.View(), "", footer)
}
