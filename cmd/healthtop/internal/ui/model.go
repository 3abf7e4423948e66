package ui

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nodeops/healthagent/cmd/healthtop/internal/client"
)

const pollInterval = 2 * time.Second

// Model is healthtop's bubbletea model: a single polled table of
// {monitor, status, description, last_update}, refreshed every
// pollInterval and on demand via 'r'.
type Model struct {
	client *client.Client

	connected bool
	lastErr   error
	rows      []monitorRow

	width, height int
	ready         bool
	table         table.Model
}

type monitorRow struct {
	name        string
	status      string
	description string
	lastUpdate  string
}

type statusMsg struct {
	status map[string]interface{}
	err    error
}

type tickMsg time.Time

// NewModel builds a model polling c.
func NewModel(c *client.Client) Model {
	return Model{client: c}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchStatus(m.client), tickCmd())
}

func fetchStatus(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		s, err := c.Status()
		return statusMsg{status: s, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// rowsFromStatus flattens the agent's {monitor: {handler: {...}}} status
// aggregate into one row per monitor, reading the first map-valued handler
// section it meets in map iteration order, whether or not that section
// carries a "status" key; a monitor with several handlers may show a
// different section on each poll, and a section without "status" leaves the
// row "unknown".
func rowsFromStatus(status map[string]interface{}) []monitorRow {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]monitorRow, 0, len(names))
	for _, name := range names {
		handlers, ok := status[name].(map[string]interface{})
		if !ok {
			continue
		}
		row := monitorRow{name: name, status: "unknown"}
		for _, v := range handlers {
			section, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if s, ok := section["status"].(string); ok {
				row.status = s
			}
			if d, ok := section["description"].(string); ok {
				row.description = d
			}
			if lu, ok := section["last_update"].(string); ok {
				row.lastUpdate = lu
			}
			break
		}
		rows = append(rows, row)
	}
	return rows
}
