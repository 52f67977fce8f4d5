package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"caster/internal/config"
	"caster/internal/logging"
	"caster/internal/recordings"
	"caster/internal/transport"
)

// Server accepts recording uploads and processing requests over WebSocket.
type Server struct {
	cfg    *config.Config
	store  *recordings.Store
	logger *slog.Logger

	hub *hub

	mu          sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	receiveHook func(*recordings.Recording)
}

// NewServer builds the ingest server. Start binds the configured address;
// Handler exposes the routes for embedding in another server.
func NewServer(cfg *config.Config, store *recordings.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "ingest"),
		hub:    newHub(),
	}
}

// SetReceiveHook registers a callback invoked when a recording is reserved
// for processing. Used for operator notifications.
func (s *Server) SetReceiveHook(fn func(*recordings.Recording)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveHook = fn
}

func (s *Server) notifyReceived(rec *recordings.Recording) {
	s.mu.Lock()
	hook := s.receiveHook
	s.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}

// Handler returns the HTTP routes: /ws for the recording transport and
// /healthz for liveness probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start listens on the configured bind address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Paths.IngestBind)
	if err != nil {
		return fmt.Errorf("ingest: listen on %s: %w", s.cfg.Paths.IngestBind, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = server
	s.mu.Unlock()

	s.logger.Info("ingest listening", logging.String("addr", listener.Addr().String()))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingest server stopped", logging.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Publish pushes a terminal processing result to any connection watching the
// recording. Clients that are offline recover the result through a status
// query on reconnect.
func (s *Server) Publish(rec *recordings.Recording) {
	if rec == nil || !rec.Terminal() {
		return
	}
	msg := transport.Message{Type: transport.TypeProcessed, Filename: rec.MediaID}
	if rec.Status == recordings.StatusFailed {
		msg = transport.Message{
			Type:     transport.TypeProcessingError,
			Filename: rec.MediaID,
			Error:    rec.ErrorMessage,
		}
	}
	delivered := s.hub.publish(rec.MediaID, msg)
	s.logger.Info("terminal signal published",
		logging.String("filename", rec.MediaID),
		logging.String("status", string(rec.Status)),
		logging.Int("delivered", delivered),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	session := newClientSession(s, transport.UpgradeConn(wsConn), r.RemoteAddr)
	session.run(r.Context())
}

// hub fans terminal signals out to the sessions watching each recording.
type hub struct {
	mu       sync.Mutex
	watchers map[string]map[*clientSession]struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[*clientSession]struct{})}
}

func (h *hub) watch(mediaID string, session *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[mediaID]
	if !ok {
		set = make(map[*clientSession]struct{})
		h.watchers[mediaID] = set
	}
	set[session] = struct{}{}
}

func (h *hub) drop(session *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for mediaID, set := range h.watchers {
		delete(set, session)
		if len(set) == 0 {
			delete(h.watchers, mediaID)
		}
	}
}

func (h *hub) publish(mediaID string, msg transport.Message) int {
	h.mu.Lock()
	sessions := make([]*clientSession, 0, len(h.watchers[mediaID]))
	for session := range h.watchers[mediaID] {
		sessions = append(sessions, session)
	}
	delete(h.watchers, mediaID)
	h.mu.Unlock()

	delivered := 0
	for _, session := range sessions {
		if err := session.write(msg); err == nil {
			delivered++
		}
	}
	return delivered
}
