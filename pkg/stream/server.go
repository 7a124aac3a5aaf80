package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepflow/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Server exposes the event stream at /ws, plus /healthz and /metrics.
type Server struct {
	addr        string
	clients     *ClientRegistry
	broadcaster *Broadcaster
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	server      *http.Server
	listener    net.Listener
}

// NewServer creates a stream server listening on addr once started.
func NewServer(addr string, logger zerolog.Logger) *Server {
	clients := NewClientRegistry()
	return &Server{
		addr:        addr,
		clients:     clients,
		broadcaster: NewBroadcaster(clients, logger),
		logger:      logger.With().Str("component", "stream-server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Broadcaster returns the planner.Sink feeding this server's clients.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Clients returns the registry of connected clients.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.clients.Count())
	})
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting event stream server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Event stream server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	for _, client := range s.clients.GetAll() {
		_ = client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Second)
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown stream server: %w", err)
	}
	s.logger.Info().Msg("Event stream server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
	}

	if err := s.broadcaster.Attach(client); err != nil {
		s.logger.Warn().Err(err).Str("clientId", clientID).Msg("Failed to replay backlog")
		conn.Close()
		return
	}

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

// handleClient drains inbound frames until the peer goes away. The stream
// is one-way; inbound messages are ignored.
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
	}
}
