// Package httpapi exposes link control, live events and the device
// inventory over HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/inventory"
	"github.com/mil-ad/mlsctl/internal/link"
)

// Link is the part of link.Session the API drives.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, command string) error
	Snapshot() link.Snapshot
}

// Deps are the components behind the routes. Link, View and Hub may be
// nil when the server only serves the inventory.
type Deps struct {
	Link       Link
	View       func() events.View
	Hub        *events.Hub
	Inventory  *inventory.Store
	DefaultIID string
}

type server struct {
	Deps
	upgrader websocket.Upgrader
}

func NewRouter(d Deps) *mux.Router {
	s := &server{Deps: d}
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	if d.Link != nil {
		r.HandleFunc("/api/link", s.getLink).Methods("GET")
		r.HandleFunc("/api/link/connect", s.connect).Methods("POST")
		r.HandleFunc("/api/link/disconnect", s.disconnect).Methods("POST")
		r.HandleFunc("/api/link/command", s.command).Methods("POST")
	}
	if d.Hub != nil {
		r.HandleFunc("/ws", s.serveWS).Methods("GET")
	}
	if d.Inventory != nil {
		r.HandleFunc("/dashboard", s.dashboard).Methods("GET")
		r.HandleFunc("/api/devices/{iid}", s.devices).Methods("GET")
		r.HandleFunc("/ota", s.checkIn).Methods("GET")
	}
	return r
}

type linkStatus struct {
	Session link.Snapshot `json:"session"`
	View    *events.View  `json:"view,omitempty"`
}

func (s *server) status() linkStatus {
	st := linkStatus{Session: s.Link.Snapshot()}
	if s.View != nil {
		v := s.View()
		st.View = &v
	}
	return st
}

func (s *server) getLink(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) connect(w http.ResponseWriter, r *http.Request) {
	if err := s.Link.Connect(r.Context()); err != nil {
		writeError(w, linkErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Link.Disconnect(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *server) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, errors.New("command must not be empty"))
		return
	}
	if err := s.Link.Send(r.Context(), req.Command); err != nil {
		writeError(w, linkErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	if s.View != nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(events.NewEvent("link/view", s.View())); err != nil {
			conn.Close()
			return
		}
	}
	s.Hub.AddClient(conn)
	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.Hub.RemoveClient(conn)
			return
		}
	}
}

func (s *server) iid(r *http.Request) string {
	if iid := r.URL.Query().Get("iid"); iid != "" {
		return iid
	}
	return s.DefaultIID
}

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	iid := s.iid(r)
	devices, err := s.Inventory.List(iid)
	if err != nil {
		writeError(w, inventoryErrorStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := inventory.RenderHTML(w, iid, devices); err != nil {
		log.Error().Err(err).Msg("render dashboard")
	}
}

func (s *server) devices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Inventory.List(mux.Vars(r)["iid"])
	if err != nil {
		writeError(w, inventoryErrorStatus(err), err)
		return
	}
	if devices == nil {
		devices = []inventory.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *server) checkIn(w http.ResponseWriter, r *http.Request) {
	c, err := inventory.ParseCheckIn(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	answer, err := s.Inventory.CheckIn(c)
	if err != nil {
		writeError(w, inventoryErrorStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, answer)
}

func linkErrorStatus(err error) int {
	switch {
	case errors.Is(err, link.ErrBusy), errors.Is(err, link.ErrAlreadyConnected), errors.Is(err, link.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func inventoryErrorStatus(err error) int {
	if errors.Is(err, inventory.ErrInvalidIID) || errors.Is(err, inventory.ErrInvalidMAC) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
