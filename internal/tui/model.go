// Package tui is the terminal view for the booking assistant. It is a
// pure consumer of session events: every mutation it shows arrived via
// the Relay, never by reaching into the core.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/conversation"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/session"
)

type messageAppendedMsg struct {
	msg conversation.Message
}

type statusChangedMsg struct {
	status session.Status
}

type submitResultMsg struct {
	accepted bool
	text     string
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("63")).Padding(0, 1)
	userLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	botLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	bodyStyle      = lipgloss.NewStyle().PaddingLeft(2)
	noticeStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

type Model struct {
	ctrl *session.Controller

	msgs   []conversation.Message
	status session.Status
	notice string

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool
}

// New builds the view over an existing controller and its loaded
// history. notice is an optional startup banner (e.g. backend
// unreachable); it clears on the first successful reply.
func New(ctrl *session.Controller, history []conversation.Message, notice string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about bookings, menus, timings..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctrl:   ctrl,
		msgs:   history,
		status: session.StatusIdle,
		input:  ti,
		spin:   sp,
		notice: notice,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			// the controller rejects double-submits too; guarding here
			// keeps the draft in the input while a send is in flight
			// or the error flash is showing
			if m.status != session.StatusIdle {
				return m, nil
			}
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.input.Reset()
			ctrl := m.ctrl
			return m, func() tea.Msg {
				// runs off the event loop so relayed events can land
				return submitResultMsg{accepted: ctrl.Submit(context.Background(), text), text: text}
			}
		}

	case submitResultMsg:
		// the controller raced ahead of the view's status and dropped
		// the send; put the draft back unless the user typed on
		if !msg.accepted && m.input.Value() == "" {
			m.input.SetValue(msg.text)
		}
		return m, nil

	case messageAppendedMsg:
		m.msgs = append(m.msgs, msg.msg)
		if msg.msg.Role == conversation.RoleAssistant && msg.msg.Content != session.ErrorReply {
			m.notice = ""
		}
		m.refreshViewport()
		return m, nil

	case statusChangedMsg:
		m.status = msg.status
		if m.status == session.StatusSending {
			return m, m.spin.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if m.status != session.StatusSending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Restaurant Assistant"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch m.status {
	case session.StatusSending:
		b.WriteString(fmt.Sprintf("%s assistant is typing...", m.spin.View()))
	case session.StatusError:
		b.WriteString(errorStyle.Render("send failed"))
	default:
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
	}
	return b.String()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages() string {
	if len(m.msgs) == 0 {
		return noticeStyle.Render("No messages yet. Say hello!")
	}
	wrap := bodyStyle.Width(m.width - 2)
	var parts []string
	for _, msg := range m.msgs {
		label := botLabelStyle.Render("Assistant")
		if msg.Role == conversation.RoleUser {
			label = userLabelStyle.Render("You")
		}
		stamp := noticeStyle.Render(msg.Timestamp.Local().Format("15:04"))
		parts = append(parts, fmt.Sprintf("%s %s\n%s", label, stamp, wrap.Render(msg.Content)))
	}
	return strings.Join(parts, "\n\n")
}
