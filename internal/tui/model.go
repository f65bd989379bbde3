// Package tui is the interactive terminal remote: one connect control, a
// status panel that turns yellow when frames stop arriving, and preset
// command keys.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/link"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	buttonStyles = map[events.Tone]lipgloss.Style{
		events.ToneNeutral: lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("252")).Padding(0, 2),
		events.ToneWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220")).Padding(0, 2),
		events.ToneInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("33")).Padding(0, 2),
	}

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(40)

	stalePanelStyle = panelStyle.
			BorderForeground(lipgloss.Color("220")).
			Background(lipgloss.Color("58"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)
)

// Remote is what the model drives.
type Remote interface {
	Toggle(ctx context.Context) error
	Send(ctx context.Context, command string) error
}

type stateMsg link.State

type fieldsMsg struct{ left, right string }

type livenessMsg bool

type attemptMsg struct{ attempt, max int }

type sentMsg string

type errMsg struct{ err error }

// Model is the bubbletea model of the remote.
type Model struct {
	remote  Remote
	presets []string

	state       link.State
	left, right string
	fresh       bool
	attempt     int
	maxAttempts int
	lastSent    string
	err         error

	input textinput.Model
	width int
}

// New returns a Model with up to nine preset commands on keys 1-9.
func New(remote Remote, presets []string) Model {
	if len(presets) > 9 {
		presets = presets[:9]
	}
	ti := textinput.New()
	ti.Prompt = ": "
	ti.Placeholder = "command"
	ti.Width = 30
	ti.Cursor.SetMode(cursor.CursorStatic)
	return Model{remote: remote, presets: presets, input: ti}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateInput(msg)
		}
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c", " ":
			m.err = nil
			return m, m.toggle()
		case ":":
			m.input.Reset()
			cmd := m.input.Focus()
			return m, cmd
		default:
			if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
				if i := int(key[0] - '1'); i < len(m.presets) {
					return m, m.send(m.presets[i])
				}
			}
		}
		return m, nil

	case stateMsg:
		m.state = link.State(msg)
		if m.state == link.Connected || m.state == link.Idle {
			m.attempt, m.maxAttempts = 0, 0
		}
		return m, nil

	case fieldsMsg:
		m.left, m.right = msg.left, msg.right
		return m, nil

	case livenessMsg:
		m.fresh = bool(msg)
		return m, nil

	case attemptMsg:
		m.attempt, m.maxAttempts = msg.attempt, msg.max
		return m, nil

	case sentMsg:
		m.lastSent = string(msg)
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.input.Blur()
		if cmd := strings.TrimSpace(m.input.Value()); cmd != "" {
			return m, m.send(cmd)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) toggle() tea.Cmd {
	r := m.remote
	return func() tea.Msg {
		if err := r.Toggle(context.Background()); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) send(command string) tea.Cmd {
	r := m.remote
	return func() tea.Msg {
		if err := r.Send(context.Background(), command); err != nil {
			return errMsg{fmt.Errorf("send %q: %w", command, err)}
		}
		return sentMsg(command)
	}
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Moving Light Show remote"))
	sb.WriteString("\n\n")

	p := events.Present(m.state)
	sb.WriteString(buttonStyles[p.Tone].Render(p.Label))
	sb.WriteString("  ")
	sb.WriteString(dimStyle.Render(m.state.String()))
	if m.state == link.Reconnecting && m.maxAttempts > 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf(" attempt %d/%d", m.attempt, m.maxAttempts)))
	}
	sb.WriteString("\n\n")

	panel := panelStyle
	if !m.fresh {
		panel = stalePanelStyle
	}
	left, right := m.left, m.right
	if left == "" && right == "" {
		left = "-"
	}
	sb.WriteString(panel.Render(fmt.Sprintf("%-18s %18s", left, right)))
	sb.WriteString("\n")

	if m.lastSent != "" {
		sb.WriteString(dimStyle.Render("sent: " + m.lastSent))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if m.input.Focused() {
		sb.WriteString(m.input.View() + "\n")
		sb.WriteString(dimStyle.Render("enter send • esc cancel"))
		return sb.String()
	}

	var keys []string
	for i, p := range m.presets {
		keys = append(keys, fmt.Sprintf("%d %s", i+1, p))
	}
	keys = append(keys, "c connect/disconnect", ": command", "q quit")
	sb.WriteString(dimStyle.Render(strings.Join(keys, " • ")))
	return sb.String()
}
