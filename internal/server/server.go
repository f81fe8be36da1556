// Package server exposes the interview service over HTTP: health checks plus
// the two websocket endpoints, scripted and live.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/voxhire/voxhire/internal/config"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/session"
)

// UpstreamDialer opens the realtime channel for one live session.
type UpstreamDialer func(ctx context.Context, lc oracle.LiveConfig) (session.Upstream, error)

type Dependencies struct {
	Config config.Config
	Logger *slog.Logger
	Store  session.Store
	Oracle session.Oracle
	// DialUpstream overrides the realtime dialer, for tests. Defaults to
	// oracle.DialLive.
	DialUpstream UpstreamDialer
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	store  session.Store
	oracle session.Oracle

	sessions     *session.Registry
	dialUpstream UpstreamDialer
	draining     atomic.Bool

	router chi.Router
}

func New(deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DialUpstream == nil {
		deps.DialUpstream = func(ctx context.Context, lc oracle.LiveConfig) (session.Upstream, error) {
			return oracle.DialLive(ctx, lc)
		}
	}

	s := &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		store:        deps.Store,
		oracle:       deps.Oracle,
		sessions:     session.NewRegistry(),
		dialUpstream: deps.DialUpstream,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(s.logger))
	r.Use(Recover(s.logger))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws/interview", s.handleInterviewWS)
	r.Get("/ws/live", s.handleLiveWS)

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SetDraining makes the server refuse new websocket sessions. Existing
// sessions keep running until they finish or are canceled.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

func (s *Server) WarnSessions(message string) int {
	return s.sessions.WarnAll(message)
}

func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

func (s *Server) CancelSessions() int {
	return s.sessions.CancelAll()
}
