// Package tui renders the command session and live browser view state
// in the terminal. It is a thin presentation layer: all session rules
// (single-flight, history, error text) live in pkg/session, and the
// view-mode switch lives in pkg/viewer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/periscope-dev/periscope/pkg/session"
	"github.com/periscope-dev/periscope/pkg/stream"
	"github.com/periscope-dev/periscope/pkg/viewer"
)

// refreshInterval drives the status/history repaint cadence. Frames
// arrive on their own goroutine; the model just samples the latest on
// every tick.
const refreshInterval = 500 * time.Millisecond

// FrameSource is the slice of the stream connection the UI reads.
type FrameSource interface {
	Latest() *stream.Frame
	State() stream.State
}

type tickMsg time.Time

type execDoneMsg struct {
	rec *session.Record
	err error
}

type theme struct {
	title      lipgloss.Style
	statusUp   lipgloss.Style
	statusDown lipgloss.Style
	statusInfo lipgloss.Style
	command    lipgloss.Style
	timestamp  lipgloss.Style
	response   lipgloss.Style
	errText    lipgloss.Style
	help       lipgloss.Style
	inputBox   lipgloss.Style
}

func newTheme() theme {
	return theme{
		title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe")),
		statusUp:   lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		statusDown: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f56")),
		statusInfo: lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3d8")),
		command:    lipgloss.NewStyle().Bold(true),
		timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7089")),
		response:   lipgloss.NewStyle().Foreground(lipgloss.Color("#c3c8e0")),
		errText:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f56")),
		help:       lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7089")),
		inputBox: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#01cdfe")).
			Padding(0, 1),
	}
}

// Model is the bubbletea model for the interactive session.
type Model struct {
	session *session.Session
	frames  FrameSource
	modes   *viewer.Controller
	display *viewer.Display

	input   textinput.Model
	history viewport.Model
	spin    spinner.Model
	theme   theme

	width    int
	height   int
	ready    bool
	quitting bool
}

// NewModel wires the UI to a session, frame source, and mode controller.
func NewModel(sess *session.Session, frames FrameSource, modes *viewer.Controller, display *viewer.Display) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "e.g. open example.com and search for Go tutorials"
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return Model{
		session: sess,
		frames:  frames,
		modes:   modes,
		display: display,
		input:   input,
		history: viewport.New(0, 0),
		spin:    sp,
		theme:   newTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, textinput.Blink, tickEvery(refreshInterval))
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) execCmd(text string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		rec, err := sess.Execute(context.Background(), text)
		return execDoneMsg{rec: rec, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		return m, nil

	case tickMsg:
		m.history.SetContent(m.renderHistory())
		return m, tickEvery(refreshInterval)

	case execDoneMsg:
		if msg.err == nil {
			m.input.SetValue("")
			m.session.SetInput("")
		}
		m.history.SetContent(m.renderHistory())
		m.history.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyTab:
			m.modes.Toggle()
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.session.Loading() {
				return m, nil
			}
			m.session.SetInput(text)
			return m, m.execCmd(text)
		}
		if msg.String() == "q" && strings.TrimSpace(m.input.Value()) == "" {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.history, cmd = m.history.Update(msg)
	cmds = append(cmds, cmd)
	m.session.SetInput(m.input.Value())
	return m, tea.Batch(cmds...)
}

func (m *Model) resize() {
	m.history.Width = m.width
	// Title, status, input box, error line, footer.
	chrome := 8
	if h := m.height - chrome; h > 0 {
		m.history.Height = h
	} else {
		m.history.Height = 1
	}
	m.input.Width = m.width - 6
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.theme.title.Render("periscope — remote browser session"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")
	b.WriteString(m.history.View())
	b.WriteString("\n")

	if m.session.Loading() {
		b.WriteString(m.spin.View())
		b.WriteString(" executing...\n")
	} else if errText := m.session.LastError(); errText != "" {
		b.WriteString(m.theme.errText.Render(errText))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
	}

	b.WriteString(m.theme.inputBox.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.theme.help.Render("enter: execute · tab: switch view mode · esc/ctrl+c: quit"))
	return b.String()
}

func (m Model) statusLine() string {
	state := m.frames.State()
	var conn string
	if state == stream.StateOpen {
		conn = m.theme.statusUp.Render("● stream connected")
	} else {
		conn = m.theme.statusDown.Render("● stream " + state.String())
	}

	parts := []string{conn, "mode: " + m.modes.Mode().String()}

	if m.modes.Mode() == viewer.ModePoll {
		if url, at := m.display.Current(); url != "" {
			parts = append(parts, fmt.Sprintf("screenshot %s ago", humanAge(time.Since(at))))
		}
	} else if frame := m.frames.Latest(); frame != nil {
		parts = append(parts, fmt.Sprintf("frame %s ago (%d KB)",
			humanAge(time.Since(frame.ReceivedAt)), len(frame.Data)/1024))
	}

	if debug := m.session.DebugURL(); debug != "" {
		parts = append(parts, "debugger: "+debug)
	}
	return m.theme.statusInfo.Render(strings.Join(parts, "  ·  "))
}

func (m Model) renderHistory() string {
	records := m.session.History()
	if len(records) == 0 {
		return m.theme.statusInfo.Render("No commands yet. Describe what the browser should do and press enter.")
	}

	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.theme.command.Render(rec.Command))
		b.WriteString(" ")
		b.WriteString(m.theme.timestamp.Render(rec.Timestamp))
		b.WriteString("\n")
		b.WriteString(m.theme.response.Render(rec.Response))
		b.WriteString("\n")
	}
	return b.String()
}

func humanAge(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.0fs", d.Seconds())
}

// Run starts the interactive program and blocks until it exits.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
