package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testService = "fe150000-c76e-46b7-a964-3358a4efcf62"
	testCommand = "fe150001-c76e-46b7-a964-3358a4efcf62"
	testStatus  = "fe150002-c76e-46b7-a964-3358a4efcf62"
)

func testConfig() Config {
	return Config{
		NamePrefix:    "MovingLightShow",
		NetworkPrefix: "AMX",
		ServiceUUID:   testService,
		CommandUUID:   testCommand,
		StatusUUID:    testStatus,
		MaxAttempts:   30,
		RetryDelay:    time.Millisecond,
	}
}

type fakeChar struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	handler  func([]byte)
}

func (c *fakeChar) Subscribe(ctx context.Context, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
	return nil
}

func (c *fakeChar) Write(ctx context.Context, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeChar) notify(p []byte) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (c *fakeChar) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeService struct{ dev *fakeDevice }

func (s fakeService) Characteristic(ctx context.Context, uuid string) (Characteristic, error) {
	switch uuid {
	case testStatus:
		return s.dev.status, nil
	case testCommand:
		return s.dev.command, nil
	}
	return nil, fmt.Errorf("characteristic %s not found", uuid)
}

type fakeDevice struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	failConnects int // upcoming Connect calls to fail, -1 = all
	serviceErr   error
	silent       bool // Disconnect does not raise the disconnect signal
	onDisconnect func()

	status  *fakeChar
	command *fakeChar
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{status: &fakeChar{}, command: &fakeChar{}}
}

func (d *fakeDevice) Name() string    { return "MovingLightShow-01" }
func (d *fakeDevice) Address() string { return "AA:BB:CC:DD:EE:FF" }

func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectCalls++
	if d.failConnects != 0 {
		if d.failConnects > 0 {
			d.failConnects--
		}
		return errors.New("connect failed")
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	was := d.connected
	d.connected = false
	fn := d.onDisconnect
	silent := d.silent
	d.mu.Unlock()
	if was && fn != nil && !silent {
		fn()
	}
	return nil
}

func (d *fakeDevice) Service(ctx context.Context, uuid string) (Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serviceErr != nil {
		return nil, d.serviceErr
	}
	if uuid != testService {
		return nil, fmt.Errorf("service %s not found", uuid)
	}
	return fakeService{dev: d}, nil
}

func (d *fakeDevice) OnDisconnect(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDisconnect = fn
}

// drop simulates a link loss initiated by the peer.
func (d *fakeDevice) drop() {
	d.mu.Lock()
	d.connected = false
	fn := d.onDisconnect
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDevice) connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

type fakeTransport struct {
	dev  *fakeDevice
	err  error
	gate chan struct{} // when set, Discover waits for it
}

func (t *fakeTransport) Discover(ctx context.Context, prefix string) (Device, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.dev, nil
}

type recorder struct {
	states   chan State
	fields   chan [2]string
	attempts chan int
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{
		states:   make(chan State, 256),
		fields:   make(chan [2]string, 64),
		attempts: make(chan int, 64),
		errs:     make(chan error, 64),
	}
}

func (r *recorder) StateChanged(s State)              { r.states <- s }
func (r *recorder) StatusFields(left, right string)   { r.fields <- [2]string{left, right} }
func (r *recorder) ReconnectAttempt(attempt, max int) { r.attempts <- attempt }
func (r *recorder) Error(err error)                   { r.errs <- err }

func (r *recorder) expectStates(t *testing.T, want ...State) {
	t.Helper()
	for i, w := range want {
		select {
		case got := <-r.states:
			if got != w {
				t.Fatalf("state #%d = %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state #%d (%s)", i, w)
		}
	}
}

func (r *recorder) expectNoState(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case got := <-r.states:
		t.Fatalf("unexpected state %s", got)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *recorder) expectError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error")
	}
	return nil
}
