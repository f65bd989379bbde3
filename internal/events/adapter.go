package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/link"
)

// Event types published by the Adapter.
const (
	TypeState     = "link/state"
	TypeStatus    = "link/status"
	TypeLiveness  = "link/liveness"
	TypeReconnect = "link/reconnect"
	TypeError     = "link/error"
)

// View is the full display state of a remote.
type View struct {
	State       link.State   `json:"state"`
	Control     Presentation `json:"control"`
	Left        string       `json:"left"`
	Right       string       `json:"right"`
	Fresh       bool         `json:"fresh"`
	Attempt     int          `json:"attempt,omitempty"`
	MaxAttempts int          `json:"max_attempts,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Publisher receives one event per view change.
type Publisher interface {
	Publish(typ string, payload interface{})
}

// Adapter implements link.Observer and the liveness callback, keeping a
// View current and publishing each change.
type Adapter struct {
	pub Publisher
	now func() time.Time

	mu   sync.Mutex
	view View
}

var _ link.Observer = (*Adapter)(nil)

// NewAdapter returns an Adapter for an Idle session. pub may be nil.
func NewAdapter(pub Publisher) *Adapter {
	a := &Adapter{pub: pub, now: time.Now}
	a.view = View{State: link.Idle, Control: Present(link.Idle), UpdatedAt: a.now()}
	return a
}

// View returns a copy of the current view.
func (a *Adapter) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

func (a *Adapter) StateChanged(state link.State) {
	a.mu.Lock()
	a.view.State = state
	a.view.Control = Present(state)
	switch state {
	case link.Connected, link.Idle:
		a.view.Attempt, a.view.MaxAttempts = 0, 0
	case link.Connecting:
		a.view.LastError = ""
	}
	a.view.UpdatedAt = a.now()
	a.mu.Unlock()

	log.Debug().Stringer("state", state).Msg("state changed")
	a.publish(TypeState, map[string]interface{}{
		"state":   state,
		"control": Present(state),
	})
}

func (a *Adapter) StatusFields(left, right string) {
	a.mu.Lock()
	a.view.Left, a.view.Right = left, right
	a.view.UpdatedAt = a.now()
	a.mu.Unlock()

	a.publish(TypeStatus, map[string]string{"left": left, "right": right})
}

func (a *Adapter) ReconnectAttempt(attempt, max int) {
	a.mu.Lock()
	a.view.Attempt, a.view.MaxAttempts = attempt, max
	a.view.UpdatedAt = a.now()
	a.mu.Unlock()

	a.publish(TypeReconnect, map[string]int{"attempt": attempt, "max": max})
}

func (a *Adapter) Error(err error) {
	a.mu.Lock()
	a.view.LastError = err.Error()
	a.view.UpdatedAt = a.now()
	a.mu.Unlock()

	log.Warn().Err(err).Msg("link error")
	a.publish(TypeError, map[string]string{"error": err.Error()})
}

// Liveness records a monitor tick. Only transitions are published.
func (a *Adapter) Liveness(fresh bool) {
	a.mu.Lock()
	changed := a.view.Fresh != fresh
	a.view.Fresh = fresh
	if changed {
		a.view.UpdatedAt = a.now()
	}
	a.mu.Unlock()

	if changed {
		log.Debug().Bool("fresh", fresh).Msg("liveness changed")
		a.publish(TypeLiveness, map[string]bool{"fresh": fresh})
	}
}

func (a *Adapter) publish(typ string, payload interface{}) {
	if a.pub != nil {
		a.pub.Publish(typ, payload)
	}
}

// Tee fans session events out to several observers in order.
type Tee []link.Observer

func (t Tee) StateChanged(s link.State) {
	for _, o := range t {
		o.StateChanged(s)
	}
}

func (t Tee) StatusFields(left, right string) {
	for _, o := range t {
		o.StatusFields(left, right)
	}
}

func (t Tee) ReconnectAttempt(attempt, max int) {
	for _, o := range t {
		o.ReconnectAttempt(attempt, max)
	}
}

func (t Tee) Error(err error) {
	for _, o := range t {
		o.Error(err)
	}
}
