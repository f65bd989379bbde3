package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/link"
)

type fakeSession struct {
	mu    sync.Mutex
	state link.State
	sent  []string
	err   error
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == link.Connected {
		return link.ErrAlreadyConnected
	}
	f.state = link.Connected
	return nil
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = link.Disconnected
	return nil
}

func (f *fakeSession) Toggle(ctx context.Context) error {
	f.mu.Lock()
	connected := f.state == link.Connected
	f.mu.Unlock()
	if connected {
		return f.Disconnect()
	}
	return f.Connect(ctx)
}

func (f *fakeSession) Send(ctx context.Context, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, command)
	return nil
}

func (f *fakeSession) Snapshot() link.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return link.Snapshot{State: f.state, CommandsSent: len(f.sent), DeviceName: "MovingLightShow-01", DeviceAddress: "AA:BB:CC:DD:EE:FF"}
}

func newTestDaemon(s *fakeSession) *daemon {
	return &daemon{
		ctx:     context.Background(),
		session: s,
		view: func() events.View {
			return events.View{State: s.Snapshot().State, Left: "12.3", Right: "OK", Fresh: true}
		},
	}
}

func TestHandleRequest(t *testing.T) {
	s := &fakeSession{}
	d := newTestDaemon(s)

	resp := d.handleRequest(IPCRequest{Command: "status"})
	if resp.Error != "" || resp.Session == nil || resp.Session.State != link.Idle {
		t.Fatalf("status = %+v", resp)
	}
	if resp.View == nil || resp.View.Left != "12.3" {
		t.Fatalf("view = %+v", resp.View)
	}

	resp = d.handleRequest(IPCRequest{Command: "connect"})
	if resp.Error != "" || resp.Session.State != link.Connected {
		t.Fatalf("connect = %+v", resp)
	}
	resp = d.handleRequest(IPCRequest{Command: "connect"})
	if resp.Error != link.ErrAlreadyConnected.Error() || resp.Session == nil {
		t.Fatalf("second connect = %+v", resp)
	}

	resp = d.handleRequest(IPCRequest{Command: "send", Text: "ON"})
	if resp.Error != "" || resp.Session.CommandsSent != 1 {
		t.Fatalf("send = %+v", resp)
	}

	resp = d.handleRequest(IPCRequest{Command: "toggle"})
	if resp.Session.State != link.Disconnected {
		t.Fatalf("toggle state = %s", resp.Session.State)
	}
}

func TestHandleRequestRejects(t *testing.T) {
	d := newTestDaemon(&fakeSession{})

	tests := []struct {
		req  IPCRequest
		want string
	}{
		{IPCRequest{Command: "send"}, "command text is required"},
		{IPCRequest{Command: "reboot"}, `unknown command: "reboot"`},
	}
	for _, tt := range tests {
		resp := d.handleRequest(tt.req)
		if resp.Error != tt.want {
			t.Errorf("%+v: error = %q, want %q", tt.req, resp.Error, tt.want)
		}
		if resp.Session != nil {
			t.Errorf("%+v: unexpected session in response", tt.req)
		}
	}
}

func TestIPCRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "mlsctl.sock")
	ln, err := listenSocket(sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &fakeSession{}
	d := newTestDaemon(s)
	done := make(chan struct{})
	go func() {
		d.serve(ctx, ln)
		close(done)
	}()

	resp, err := ipcCall(sock, IPCRequest{Command: "connect"})
	if err != nil {
		t.Fatalf("ipc: %v", err)
	}
	if resp.Session == nil || resp.Session.State != link.Connected {
		t.Fatalf("resp = %+v", resp)
	}

	var out bytes.Buffer
	if err := runIPC(&out, sock, IPCRequest{Command: "send", Text: "NEXT"}, "table"); err != nil {
		t.Fatalf("runIPC: %v", err)
	}
	for _, want := range []string{"connected", "MovingLightShow-01", "12.3", "fresh"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	s.mu.Lock()
	s.err = link.ErrNotConnected
	s.mu.Unlock()
	out.Reset()
	if err := runIPC(&out, sock, IPCRequest{Command: "send", Text: "OFF"}, "json"); err == nil || err.Error() != link.ErrNotConnected.Error() {
		t.Fatalf("runIPC error = %v", err)
	}
	if !strings.Contains(out.String(), `"error": "link: not connected"`) {
		t.Errorf("json output missing error:\n%s", out.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestIPCWithoutDaemon(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := ipcCall(sock, IPCRequest{Command: "status"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrintStatusFormats(t *testing.T) {
	resp := IPCResponse{
		Session: &link.Snapshot{State: link.Reconnecting},
		View:    &events.View{State: link.Reconnecting, Attempt: 3, MaxAttempts: 30, LastError: "connect failed"},
	}

	var buf bytes.Buffer
	if err := printStatus(&buf, resp, "table"); err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, want := range []string{"reconnecting", "3/30", "connect failed", "stale"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := printStatus(&buf, resp, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "state: reconnecting") {
		t.Errorf("yaml output:\n%s", buf.String())
	}

	if err := printStatus(&buf, resp, "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	if err := setupLogging(&buf, "debug"); err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	if err := setupLogging(&buf, "loud"); err == nil {
		t.Fatalf("expected error for bad level")
	}
	setupLogging(&buf, "info")
}
