// Package server exposes the router over WebSocket and serves the health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/protocol"
	"github.com/entrhq/pilot/pkg/router"
	"github.com/entrhq/pilot/pkg/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Dispatcher handles one inbound frame. *router.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, connectionID string, frame []byte, send router.Sender)
}

// StatusSource reports the session state for the health endpoint.
type StatusSource interface {
	Status() session.Status
}

// Health is the body of the health endpoint.
type Health struct {
	Status            string `json:"status"`
	BrowserConnected  bool   `json:"browserConnected"`
	State             string `json:"state"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastError         string `json:"lastError,omitempty"`
	Connections       int    `json:"connections"`
	Session           string `json:"session"`
}

// Server accepts WebSocket clients and feeds their frames to a Dispatcher.
type Server struct {
	cfg        config.ServerConfig
	dispatcher Dispatcher
	status     StatusSource
	logger     *logging.Logger
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conns    map[string]*connection
	http     *http.Server
	inflight sync.WaitGroup
}

// New creates a server. Nothing listens until ListenAndServe or Serve.
func New(cfg config.ServerConfig, dispatcher Dispatcher, status StatusSource, logger *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		status:     status,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[string]*connection),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket and health paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	mux.HandleFunc(s.cfg.HealthPath, s.handleHealth)
	return mux
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	s.logger.Infof("listening on %s (websocket %s, health %s)", ln.Addr(), s.cfg.Path, s.cfg.HealthPath)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting clients, closes open connections, cancels
// in-flight requests and waits for them until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.http
	conns := lo.Values(s.conns)
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	health := Health{
		Status:            "ok",
		BrowserConnected:  st.Connected,
		State:             st.State,
		ReconnectAttempts: st.ReconnectAttempts,
		LastError:         st.LastError,
		Connections:       s.Connections(),
		Session:           logging.GetSessionID(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warnf("failed to write health response: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &connection{id: uuid.NewString(), ws: ws, writeTimeout: s.cfg.WriteTimeout}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	log := s.logger.With("connection", c.id, "remote", r.RemoteAddr)
	log.Infof("client connected")

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		_ = ws.Close()
		log.Infof("client disconnected")
	}()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read failed: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		s.inflight.Add(1)
		go func(frame []byte) {
			defer s.inflight.Done()
			s.dispatcher.Dispatch(ctx, c.id, frame, c.send)
		}(data)
	}
}

// connection serializes writes to one client.
type connection struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func (c *connection) send(resp *protocol.Response) error {
	data, err := resp.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
}
