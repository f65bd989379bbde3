package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/bluez"
	"github.com/mil-ad/mlsctl/internal/config"
	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/httpapi"
	"github.com/mil-ad/mlsctl/internal/inventory"
	"github.com/mil-ad/mlsctl/internal/link"
	"github.com/mil-ad/mlsctl/internal/liveness"
)

// session is the part of link.Session the daemon serves over IPC.
type session interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Toggle(ctx context.Context) error
	Send(ctx context.Context, command string) error
	Snapshot() link.Snapshot
}

type daemon struct {
	ctx     context.Context // daemon lifetime, not the client's
	session session
	view    func() events.View
}

func (d *daemon) handleRequest(req IPCRequest) IPCResponse {
	var err error
	switch req.Command {
	case "status":
	case "connect":
		err = d.session.Connect(d.ctx)
	case "disconnect":
		err = d.session.Disconnect()
	case "toggle":
		err = d.session.Toggle(d.ctx)
	case "send":
		if req.Text == "" {
			return IPCResponse{Error: "command text is required"}
		}
		err = d.session.Send(d.ctx, req.Text)
	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}

	snap := d.session.Snapshot()
	resp := IPCResponse{Session: &snap}
	if d.view != nil {
		v := d.view()
		resp.View = &v
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (d *daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	log.Debug().Str("command", req.Command).Msg("ipc request")
	resp := d.handleRequest(req)
	json.NewEncoder(conn).Encode(resp)
}

// serve accepts IPC connections until ctx ends.
func (d *daemon) serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed on shutdown.
			return
		}
		go d.handleConn(conn)
	}
}

func listenSocket(sock string) (net.Listener, error) {
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	return ln, nil
}

func linkConfig(cfg *config.Config) link.Config {
	return link.Config{
		NamePrefix:    cfg.Peer.NamePrefix,
		NetworkPrefix: cfg.NetworkPrefix,
		ServiceUUID:   cfg.Peer.ServiceUUID,
		CommandUUID:   cfg.Peer.CommandUUID,
		StatusUUID:    cfg.Peer.StatusUUID,
		MaxAttempts:   cfg.Reconnect.MaxAttempts,
		RetryDelay:    cfg.Reconnect.Delay,
	}
}

func bluezOptions(cfg *config.Config) bluez.Options {
	return bluez.Options{
		Adapter:        cfg.Peer.Adapter,
		ScanTimeout:    cfg.Peer.ScanTimeout,
		ConnectTimeout: cfg.Peer.ConnectTimeout,
	}
}

// startHTTP serves router on addr until ctx ends.
func startHTTP(ctx context.Context, addr string, router http.Handler) (wait func()) {
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("addr", addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return func() { <-done }
}

type daemonOptions struct {
	connect bool // connect to the peer on start
}

func runDaemon(ctx context.Context, cfg *config.Config, opts daemonOptions) error {
	bz, err := bluez.New(bluezOptions(cfg))
	if err != nil {
		return err
	}
	defer bz.Close()

	hub := events.NewHub()
	defer hub.Close()
	adapter := events.NewAdapter(hub)

	var window liveness.Window
	sess := link.New(linkConfig(cfg), bz, adapter, &window)
	defer sess.Close()

	mon := liveness.NewMonitor(&window, cfg.Liveness.Interval, cfg.Liveness.Threshold, adapter.Liveness)
	go mon.Run(ctx)

	sock := cfg.SocketPath()
	ln, err := listenSocket(sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)

	if cfg.HTTP.Listen != "" {
		router := httpapi.NewRouter(httpapi.Deps{
			Link:       sess,
			View:       adapter.View,
			Hub:        hub,
			Inventory:  inventory.NewStore(cfg.Inventory.Dir, cfg.Inventory.LatestFirmware),
			DefaultIID: cfg.Inventory.DefaultIID,
		})
		wait := startHTTP(ctx, cfg.HTTP.Listen, router)
		defer wait()
	}

	if opts.connect {
		go func() {
			if err := sess.Connect(ctx); err != nil {
				log.Warn().Err(err).Msg("initial connect failed")
			}
		}()
	}

	d := &daemon{ctx: ctx, session: sess, view: adapter.View}
	log.Info().Str("socket", sock).Msg("listening")
	d.serve(ctx, ln)
	log.Info().Msg("shutting down")
	return nil
}
