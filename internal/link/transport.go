package link

import "context"

// Transport finds peers on the wireless link.
type Transport interface {
	// Discover returns the first peer whose advertised name starts with
	// namePrefix. It fails when none is found before ctx ends.
	Discover(ctx context.Context, namePrefix string) (Device, error)
}

// Device is a discovered peer.
type Device interface {
	Name() string
	Address() string
	Connected() bool

	// Connect brings the link up. Connecting an already connected device
	// succeeds.
	Connect(ctx context.Context) error
	Disconnect() error

	// Service resolves an advertised GATT service by UUID.
	Service(ctx context.Context, uuid string) (Service, error)

	// OnDisconnect registers fn to run every time the link goes down,
	// whoever caused it. A later call replaces the handler.
	OnDisconnect(fn func())
}

// Service is a resolved GATT service.
type Service interface {
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is one data pipe of a service.
type Characteristic interface {
	// Subscribe enables notifications and delivers each payload to fn.
	// A later call replaces the handler.
	Subscribe(ctx context.Context, fn func(payload []byte)) error

	// Write performs a single write of p.
	Write(ctx context.Context, p []byte) error
}

// Observer receives session events. Calls are made one at a time, in
// order, from a goroutine owned by the Session.
type Observer interface {
	StateChanged(state State)
	StatusFields(left, right string)
	ReconnectAttempt(attempt, max int)
	Error(err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)          {}
func (nopObserver) StatusFields(string, string) {}
func (nopObserver) ReconnectAttempt(int, int)   {}
func (nopObserver) Error(error)                 {}
