package main

import (
	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/link"
)

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"`        // "status" | "connect" | "disconnect" | "toggle" | "send"
	Text    string `json:"text,omitempty"` // command text for "send"
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	Session *link.Snapshot `json:"session,omitempty"`
	View    *events.View   `json:"view,omitempty"`
	Error   string         `json:"error,omitempty"`
}
