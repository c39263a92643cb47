// Package server exposes the conversation system over HTTP: lead-facing
// endpoints gated by per-conversation access tokens, a streamed case
// generation proxy, and a WebSocket feed for watching a conversation
// live.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/casefinder/internal/config"
	"github.com/soyeahso/casefinder/internal/conversation"
	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/logging"
	"github.com/soyeahso/casefinder/internal/playback"
	"github.com/soyeahso/casefinder/internal/store"
)

// Server is the casefinder HTTP + WebSocket server.
type Server struct {
	cfg           config.Config
	log           *logging.Logger
	gen           genai.Generator
	conversations *store.ConversationStore
	transcripts   *store.TranscriptStore

	mu        sync.Mutex
	sessions  map[string]*session
	watchers  *watchHub

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// session is one live conversation held in memory: its orchestrator
// plus the paginator sharing the same generator.
type session struct {
	orch  *conversation.Orchestrator
	pager *conversation.Paginator
}

// New creates the server over the given stores and generator.
func New(cfg config.Config, db *store.DB, gen genai.Generator, log *logging.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		log:           log.Sub("server"),
		gen:           gen,
		conversations: store.NewConversationStore(db),
		transcripts:   store.NewTranscriptStore(db),
		sessions:      make(map[string]*session),
		startedAt:     time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}
	s.watchers = newWatchHub(log.Sub("watch"))
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Server.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLS.CertPath, s.cfg.Server.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, tlsCfg)
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Server.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled and the server is reachable beyond loopback")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Msg("server starting")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		s.closeSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// getSession returns the live orchestrator for a conversation, creating
// it from the persisted record on first access.
func (s *Server) getSession(conversationID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[conversationID]; ok {
		return sess, nil
	}

	record, err := s.conversations.Get(conversationID)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(s.cfg.Playback.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = playback.DefaultInterval
	}

	orch := conversation.New(
		conversationID,
		record.Profile,
		record.Turns,
		record.Cases,
		s.gen,
		s.transcripts,
		playback.NewScheduler(interval),
		s.watchHooks(conversationID),
		s.log,
	)
	pager := conversation.NewPaginator(s.gen, record.Profile, record.Cases, s.log)
	pager.OnFetched = func(cases []domain.CaseStudy) {
		// Merge with the record rather than replace it: the direct
		// generation endpoint may have cached cases this pager never
		// fetched itself.
		merged := cases
		if rec, err := s.conversations.Get(conversationID); err == nil {
			merged = domain.DedupCases(rec.Cases, cases)
		}
		orch.SetCases(merged)
		if _, err := s.conversations.Update(conversationID, store.Patch{Cases: merged}); err != nil {
			s.log.Error().Err(err).Str("conversation", conversationID).Msg("case persistence failed")
		}
	}
	sess := &session{orch: orch, pager: pager}
	s.sessions[conversationID] = sess

	// First view of a fresh conversation kicks off the intro.
	orch.Start()
	return sess, nil
}

// peekSession returns the live session for a conversation if one
// exists, without creating it.
func (s *Server) peekSession(conversationID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[conversationID]
}

// closeSessions tears down every live orchestrator.
func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.orch.Close()
		delete(s.sessions, id)
	}
	s.watchers.closeAll()
}
