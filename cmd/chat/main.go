// Command chat is an interactive terminal client for the support API.
// It keeps the conversation history client-side and renders routed,
// possibly degraded answers as they arrive.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	var (
		apiURL = flag.String("api", envOr("SUPPORT_API_URL", "http://localhost:8080"), "support API base URL")
		apiKey = flag.String("key", os.Getenv("API_KEY"), "API key for the Authorization header")
		docID  = flag.String("document", "", "document id to chat against (default: the server's active document)")
	)
	flag.Parse()

	c := newClient(*apiURL, *apiKey)
	p := tea.NewProgram(newModel(c, *docID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
