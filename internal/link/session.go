// Package link owns the wireless session with a single peer: discovery,
// channel setup, command writes, status notifications, and bounded
// reconnection after an unexpected link loss.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/frame"
	"github.com/mil-ad/mlsctl/internal/liveness"
	"github.com/mil-ad/mlsctl/internal/retry"
)

var (
	ErrBusy             = errors.New("link: connect already in progress")
	ErrAlreadyConnected = errors.New("link: already connected")
	ErrNotConnected     = errors.New("link: not connected")
	ErrAborted          = errors.New("link: connect aborted")
)

// Config fixes the peer identity and the reconnect policy.
type Config struct {
	NamePrefix    string // advertised name filter
	NetworkPrefix string // prepended to every command
	ServiceUUID   string
	CommandUUID   string // outbound, write only
	StatusUUID    string // inbound, notify only
	MaxAttempts   int
	RetryDelay    time.Duration
}

// Snapshot is a point-in-time copy of the session for status reporting.
type Snapshot struct {
	State          State      `json:"state"`
	DeviceName     string     `json:"device_name,omitempty"`
	DeviceAddress  string     `json:"device_address,omitempty"`
	CommandsSent   int        `json:"commands_sent"`
	LastCommand    string     `json:"last_command,omitempty"`
	LastCommandAt  *time.Time `json:"last_command_at,omitempty"`
	FramesReceived int        `json:"frames_received"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
}

// Session drives one peer through Idle, Connecting, Connected,
// Disconnected and Reconnecting. All methods are safe for concurrent use.
type Session struct {
	cfg       Config
	transport Transport
	window    *liveness.Window
	now       func() time.Time

	events  chan func(Observer)
	drained chan struct{}

	mu          sync.Mutex
	state       State
	device      Device
	outbound    Characteristic
	manual      bool   // next disconnect signal was caused by Disconnect
	gen         uint64 // bumped by every Connect, Disconnect and reconnect loop
	cancelRetry context.CancelFunc
	retryDone   chan struct{}
	closed      bool

	commands    int
	lastCommand string
	lastCmdAt   time.Time
	received    int
	lastRecvAt  time.Time
}

// New returns an Idle session. Observer callbacks run on a goroutine
// started here and stopped by Close. A nil observer discards events.
func New(cfg Config, t Transport, obs Observer, w *liveness.Window) *Session {
	if obs == nil {
		obs = nopObserver{}
	}
	if w == nil {
		w = &liveness.Window{}
	}
	s := &Session{
		cfg:       cfg,
		transport: t,
		window:    w,
		now:       time.Now,
		events:    make(chan func(Observer), 256),
		drained:   make(chan struct{}),
	}
	go func() {
		defer close(s.drained)
		for fn := range s.events {
			fn(obs)
		}
	}()
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state and counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:          s.state,
		CommandsSent:   s.commands,
		LastCommand:    s.lastCommand,
		FramesReceived: s.received,
	}
	if !s.lastCmdAt.IsZero() {
		t := s.lastCmdAt
		snap.LastCommandAt = &t
	}
	if !s.lastRecvAt.IsZero() {
		t := s.lastRecvAt
		snap.LastReceivedAt = &t
	}
	if s.device != nil {
		snap.DeviceName = s.device.Name()
		snap.DeviceAddress = s.device.Address()
	}
	return snap
}

// Connect discovers the peer and sets up the command and status channels.
// A failure leaves the session Disconnected and is not retried. Calling
// Connect while Reconnecting stops the retry loop and starts over.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.mu.Unlock()
		return ErrBusy
	case Connected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.stopRetryLocked()
	s.gen++
	gen := s.gen
	s.device, s.outbound = nil, nil
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	log.Info().Str("prefix", s.cfg.NamePrefix).Msg("requesting device")
	dev, err := s.transport.Discover(ctx, s.cfg.NamePrefix)
	if err != nil {
		return s.failConnect(nil, gen, fmt.Errorf("discover %q: %w", s.cfg.NamePrefix, err))
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Connecting || s.closed {
		s.mu.Unlock()
		return ErrAborted
	}
	s.device = dev
	s.mu.Unlock()
	dev.OnDisconnect(func() { s.peerDisconnected(dev) })

	if err := s.establish(ctx, dev, gen); err != nil {
		return s.failConnect(dev, gen, err)
	}
	log.Info().Str("device", dev.Name()).Str("address", dev.Address()).Msg("device connected")
	return nil
}

// Disconnect tears the link down on purpose. The disconnect signal it
// causes does not start a reconnect. A running retry loop is stopped.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.stopRetryLocked()
	s.gen++
	dev := s.device
	if dev == nil && s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	live := dev != nil && dev.Connected()
	if live {
		s.manual = true
	}
	s.device, s.outbound = nil, nil
	s.setStateLocked(Idle)
	s.mu.Unlock()

	if !live {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", dev.Address(), err)
	}
	log.Info().Str("device", dev.Name()).Msg("device manually disconnected")
	return nil
}

// Toggle disconnects a connected session and connects any other.
func (s *Session) Toggle(ctx context.Context) error {
	if s.State() == Connected {
		return s.Disconnect()
	}
	return s.Connect(ctx)
}

// Send frames command and writes it once. Without an open channel
// nothing is written and ErrNotConnected is returned. A failed write is
// logged and the command dropped; the state does not change.
func (s *Session) Send(ctx context.Context, command string) error {
	s.mu.Lock()
	out := s.outbound
	s.mu.Unlock()
	if out == nil {
		log.Debug().Str("command", command).Msg("not connected, command ignored")
		return ErrNotConnected
	}

	log.Debug().Str("command", command).Msg("command")
	if err := out.Write(ctx, frame.Build(s.cfg.NetworkPrefix, command)); err != nil {
		log.Warn().Err(err).Str("command", command).Msg("command dropped")
		return fmt.Errorf("write %q: %w", command, err)
	}

	s.mu.Lock()
	s.commands++
	s.lastCommand = command
	s.lastCmdAt = s.now()
	s.mu.Unlock()
	return nil
}

// Close stops any retry loop, disconnects and stops event delivery.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.stopRetryLocked()
	done := s.retryDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	err := s.Disconnect()

	s.mu.Lock()
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.drained
	return err
}

// establish runs the channel setup sequence on dev and commits it if no
// other Connect, Disconnect or reconnect loop has started since gen and
// ctx is live.
func (s *Session) establish(ctx context.Context, dev Device, gen uint64) error {
	if err := dev.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", dev.Address(), err)
	}
	svc, err := dev.Service(ctx, s.cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("resolve service %s: %w", s.cfg.ServiceUUID, err)
	}
	in, err := svc.Characteristic(ctx, s.cfg.StatusUUID)
	if err != nil {
		return fmt.Errorf("resolve status characteristic %s: %w", s.cfg.StatusUUID, err)
	}
	if err := in.Subscribe(ctx, s.receive); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.StatusUUID, err)
	}
	out, err := svc.Characteristic(ctx, s.cfg.CommandUUID)
	if err != nil {
		return fmt.Errorf("resolve command characteristic %s: %w", s.cfg.CommandUUID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.gen != gen || s.device != dev || s.closed {
		return ErrAborted
	}
	s.outbound = out
	s.stopRetryLocked()
	s.setStateLocked(Connected)
	return nil
}

// failConnect ends the attempt started at gen. A superseded attempt
// leaves the session alone and returns ErrAborted.
func (s *Session) failConnect(dev Device, gen uint64, err error) error {
	s.mu.Lock()
	current := s.gen == gen && !s.closed
	if current {
		s.device, s.outbound = nil, nil
		s.setStateLocked(Disconnected)
		s.emitLocked(func(o Observer) { o.Error(err) })
	}
	// a newer attempt holds the same peer
	taken := !current && dev != nil && s.device == dev
	s.mu.Unlock()

	if dev != nil && !taken {
		s.release(dev)
	}
	if !current {
		log.Debug().Err(err).Msg("superseded connect attempt")
		return ErrAborted
	}
	log.Warn().Err(err).Msg("connect failed")
	return err
}

// release drops a link the session no longer owns.
func (s *Session) release(dev Device) {
	if !dev.Connected() {
		return
	}
	if err := dev.Disconnect(); err != nil {
		log.Debug().Err(err).Str("device", dev.Name()).Msg("release link")
	}
}

// peerDisconnected handles a link-down signal from dev.
func (s *Session) peerDisconnected(dev Device) {
	s.mu.Lock()
	manual := s.manual
	s.manual = false
	if manual || dev != s.device || s.state != Connected || s.closed {
		s.mu.Unlock()
		log.Debug().Bool("manual", manual).Msg("device disconnected")
		return
	}

	s.outbound = nil
	s.gen++
	gen := s.gen
	s.setStateLocked(Disconnected)
	s.setStateLocked(Reconnecting)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelRetry = cancel
	s.retryDone = done
	s.mu.Unlock()

	log.Warn().Str("device", dev.Name()).Msg("device disconnected unexpectedly, reconnecting")
	go s.reconnect(ctx, dev, gen, done)
}

func (s *Session) reconnect(ctx context.Context, dev Device, gen uint64, done chan struct{}) {
	defer close(done)

	attempts := s.cfg.MaxAttempts
	err := retry.Do(ctx, attempts, retry.Constant(s.cfg.RetryDelay), func(ctx context.Context, attempt int) error {
		s.mu.Lock()
		s.emitLocked(func(o Observer) { o.ReconnectAttempt(attempt, attempts) })
		s.mu.Unlock()

		log.Info().Int("attempt", attempt).Int("max", attempts).Msg("reconnecting")
		err := s.establish(ctx, dev, gen)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		}
		return err
	})
	switch {
	case err == nil:
		log.Info().Str("device", dev.Name()).Msg("device reconnected")
		return
	case ctx.Err() != nil:
		return
	}

	s.mu.Lock()
	current := s.gen == gen && s.device == dev && !s.closed
	if current {
		s.device, s.outbound = nil, nil
		s.stopRetryLocked()
		s.setStateLocked(Disconnected)
		s.emitLocked(func(o Observer) { o.Error(err) })
	}
	s.mu.Unlock()
	if !current {
		return
	}
	// a half-resolved attempt may have left the peer connected
	s.release(dev)
	log.Warn().Err(err).Msg("failed to reconnect")
}

// receive handles one inbound status notification.
func (s *Session) receive(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return
	}
	left, right := frame.Decode(payload)
	now := s.now()
	s.window.Touch(now)
	s.received++
	s.lastRecvAt = now
	s.emitLocked(func(o Observer) { o.StatusFields(left, right) })
}

func (s *Session) stopRetryLocked() {
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.emitLocked(func(o Observer) { o.StateChanged(st) })
}

func (s *Session) emitLocked(fn func(Observer)) {
	if s.closed {
		return
	}
	s.events <- fn
}
