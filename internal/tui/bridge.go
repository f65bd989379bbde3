package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mil-ad/mlsctl/internal/link"
)

// Bridge forwards session and liveness events into a running program.
// Events arriving before Attach are dropped.
type Bridge struct {
	mu sync.Mutex
	p  *tea.Program
}

var _ link.Observer = (*Bridge)(nil)

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p = p
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (b *Bridge) StateChanged(s link.State)         { b.send(stateMsg(s)) }
func (b *Bridge) StatusFields(left, right string)   { b.send(fieldsMsg{left, right}) }
func (b *Bridge) ReconnectAttempt(attempt, max int) { b.send(attemptMsg{attempt, max}) }
func (b *Bridge) Error(err error)                   { b.send(errMsg{err}) }
func (b *Bridge) Liveness(fresh bool)               { b.send(livenessMsg(fresh)) }
