// Package events turns link session callbacks into a view model and
// broadcasts every change to websocket clients.
package events

import (
	"github.com/mil-ad/mlsctl/internal/link"
)

// Tone is the colour class of the connect control.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneWarning Tone = "warning"
	ToneInfo    Tone = "info"
)

// Presentation is what the connect control shows for a state.
type Presentation struct {
	Label  string `json:"label"`
	Tone   Tone   `json:"tone"`
	Linked bool   `json:"linked"` // the control disconnects when pressed
}

// Present maps a session state to its connect control.
func Present(s link.State) Presentation {
	switch s {
	case link.Connected:
		return Presentation{Label: "Disconnect", Tone: ToneInfo, Linked: true}
	case link.Reconnecting:
		return Presentation{Label: "Connecting...", Tone: ToneWarning}
	case link.Disconnected:
		return Presentation{Label: "Connect", Tone: ToneWarning}
	default:
		// Idle, and Connecting until the first outcome is known
		return Presentation{Label: "Connect", Tone: ToneNeutral}
	}
}
