// Command posewatch follows a coaching session in the terminal.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "pose coach server URL")
	sessionID := flag.String("session", "", "session to follow (default: newest running session)")
	flag.Parse()

	m := newModel(newClient(*server), *sessionID)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
