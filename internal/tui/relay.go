package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/conversation"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/session"
)

// Relay forwards session events into the bubbletea program's message
// loop. It is the only bridge between the core and the view; the
// controller stays ignorant of rendering.
type Relay struct {
	p *tea.Program
}

func NewRelay(p *tea.Program) *Relay {
	return &Relay{p: p}
}

func (r *Relay) MessageAppended(msg conversation.Message) {
	r.p.Send(messageAppendedMsg{msg: msg})
}

func (r *Relay) StatusChanged(status session.Status) {
	r.p.Send(statusChangedMsg{status: status})
}
