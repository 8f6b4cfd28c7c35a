package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	youStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	supportStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	degradedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// replyMsg carries the outcome of one API round trip back into Update.
type replyMsg struct {
	reply *chatReply
	err   error
}

type model struct {
	client   *client
	input    textinput.Model
	viewport viewport.Model
	history  []turn
	lines    []string
	status   string
	docID    string
	pending  string
	waiting  bool
	ready    bool
}

func newModel(c *client, docID string) model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return model{
		client:   c,
		input:    ti,
		viewport: vp,
		docID:    docID,
		status:   "Connected. Type to ask.",
	}
}

func (m model) Init() tea.Cmd { return textinput.Blink }

// ask runs the API call off the UI loop and reports back as a replyMsg.
func (m model) ask(query string) tea.Cmd {
	c, docID := m.client, m.docID
	history := m.history
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		reply, err := c.send(ctx, query, docID, history)
		return replyMsg{reply: reply, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, spacer, input frame, status
		vh := msg.Height - reserved - th
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width-transcriptBoxStyle.GetHorizontalFrameSize())
		m.viewport.Height = vh
		m.viewport.SetContent(m.renderTranscript())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.String() == "enter" && !m.waiting {
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				break
			}
			m.pending = q
			m.waiting = true
			m.lines = append(m.lines, youStyle.Render("You: ")+q)
			m.status = "Waiting for answer..."
			m.input.Reset()
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
			return m, m.ask(q)
		}

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			m.pending = ""
			return m, nil
		}
		reply := msg.reply
		answer := supportStyle.Render("Support: ") + reply.Answer
		if reply.Degraded {
			answer += "\n" + degradedStyle.Render("(degraded answer)")
		}
		m.lines = append(m.lines, answer, "")
		m.history = append(m.history,
			turn{Role: "user", Content: m.pending},
			turn{Role: "model", Content: reply.Answer},
		)
		m.pending = ""
		if m.docID == "" && reply.DocumentID != "" {
			m.docID = reply.DocumentID
		}
		m.status = statusStyle.Render(statusLine(reply))
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Support Chat")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	return header + "\n" + transcript + "\n" + input + "\n" + m.status
}

func (m model) renderTranscript() string {
	if len(m.lines) == 0 {
		return "No messages yet. Ask about the loaded document."
	}
	wrap := lipgloss.NewStyle().Width(m.viewport.Width)
	return wrap.Render(strings.Join(m.lines, "\n"))
}

func statusLine(r *chatReply) string {
	parts := []string{fmt.Sprintf("route=%s", orDash(r.Route))}
	if r.DocumentID != "" {
		parts = append(parts, "doc="+shortID(r.DocumentID))
	}
	return strings.Join(parts, "  ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
