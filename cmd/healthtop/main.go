// Command healthtop is a terminal dashboard polling a healthagentd
// instance's control socket and rendering its monitors' current status.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nodeops/healthagent/cmd/healthtop/internal/client"
	"github.com/nodeops/healthagent/cmd/healthtop/internal/ui"
	"github.com/nodeops/healthagent/internal/config"
)

func main() {
	socketPath := flag.String("socket", "", "path to the agent's control socket (defaults to <data-dir>/run/health.sock)")
	dataDir := flag.String("data-dir", "", "agent working directory, used to derive the default socket path")
	flag.Parse()

	path := *socketPath
	if path == "" {
		path = defaultSocketPath(*dataDir)
	}

	c := client.New(path)
	m := ui.NewModel(c)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "healthtop: %v\n", err)
		os.Exit(1)
	}
}

func defaultSocketPath(dataDirFlag string) string {
	dir := dataDirFlag
	if dir == "" {
		dir = os.Getenv("HEALTHAGENT_DIR")
	}
	if dir == "" {
		dir = config.DefaultWorkdir
	}
	return dir + "/run/health.sock"
}
