package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhire/voxhire/internal/interview"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/protocol"
	"github.com/voxhire/voxhire/internal/session"
	"github.com/voxhire/voxhire/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleInterviewWS runs one scripted interview session over a websocket.
func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	conn, iv, prior, ok := s.acceptInterview(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	sess, err := session.New(session.Dependencies{
		Conn:       conn,
		Logger:     s.logger,
		Store:      s.store,
		Oracle:     s.oracle,
		Interview:  iv,
		PriorTurns: prior,
		Config:     s.sessionConfig(),
	})
	if err != nil {
		s.writeWSError(conn, "internal", "failed to initialize session")
		return
	}

	unregister, err := s.sessions.Register(iv.Token, sess.Handle())
	if err != nil {
		s.writeWSError(conn, "active_session", "interview already has an active connection")
		return
	}
	defer unregister()

	if err := sess.Run(); err != nil {
		reqID, _ := RequestIDFrom(r.Context())
		s.logger.Warn("interview session ended with error",
			"interview", iv.ID, "request_id", reqID, "error", err)
	}
}

// handleLiveWS bridges one candidate connection to the realtime interviewer.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RealtimeAPIKey == "" {
		http.Error(w, "live mode is not configured", http.StatusServiceUnavailable)
		return
	}
	conn, iv, prior, ok := s.acceptInterview(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	ic := oracle.Context{
		Position:   iv.Position,
		Candidate:  iv.Candidate,
		Dimensions: iv.Dimensions,
		MinTurns:   iv.MinTurns,
		MaxTurns:   iv.MaxTurns,
	}
	dialCtx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	upstream, err := s.dialUpstream(dialCtx, oracle.LiveConfig{
		URL:          s.cfg.RealtimeURL,
		APIKey:       s.cfg.RealtimeAPIKey,
		Voice:        s.cfg.RealtimeVoice,
		Instructions: oracle.LiveInstructions(ic, s.cfg.OpeningMessage, s.cfg.ClosingMessage),
		Tools:        oracle.InterviewTools(iv.Dimensions),
	})
	cancel()
	if err != nil {
		s.logger.Error("realtime dial failed", "interview", iv.ID, "error", err)
		s.writeWSError(conn, "upstream", "could not reach the interviewer")
		return
	}

	bridge, err := session.NewLiveBridge(session.LiveDependencies{
		Conn:       conn,
		Upstream:   upstream,
		Logger:     s.logger,
		Store:      s.store,
		Reporter:   s.oracle,
		Interview:  iv,
		PriorTurns: prior,
		Config:     s.sessionConfig(),
	})
	if err != nil {
		upstream.Close()
		s.writeWSError(conn, "internal", "failed to initialize session")
		return
	}

	unregister, err := s.sessions.Register(iv.Token, bridge.Handle())
	if err != nil {
		upstream.Close()
		s.writeWSError(conn, "active_session", "interview already has an active connection")
		return
	}
	defer unregister()

	if err := bridge.Run(context.Background()); err != nil {
		reqID, _ := RequestIDFrom(r.Context())
		s.logger.Warn("live session ended with error",
			"interview", iv.ID, "request_id", reqID, "error", err)
	}
}

// acceptInterview upgrades the connection and resolves the interview behind
// the token. On failure the connection is already closed and ok is false.
func (s *Server) acceptInterview(w http.ResponseWriter, r *http.Request) (*websocket.Conn, interview.Interview, []interview.Turn, bool) {
	if s.draining.Load() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return nil, interview.Interview{}, nil, false
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return nil, interview.Interview{}, nil, false
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, interview.Interview{}, nil, false
	}

	iv, err := s.store.GetInterviewByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeWSError(conn, "not_found", "unknown interview token")
		} else {
			s.logger.Error("interview lookup failed", "error", err)
			s.writeWSError(conn, "internal", "could not load the interview")
		}
		conn.Close()
		return nil, interview.Interview{}, nil, false
	}
	if iv.Status == interview.StatusCompleted {
		s.writeWSError(conn, "completed", "this interview has already been completed")
		conn.Close()
		return nil, interview.Interview{}, nil, false
	}

	prior, err := s.store.ListTurns(r.Context(), iv.ID)
	if err != nil {
		s.logger.Error("turn lookup failed", "interview", iv.ID, "error", err)
		s.writeWSError(conn, "internal", "could not load the interview")
		conn.Close()
		return nil, interview.Interview{}, nil, false
	}
	return conn, iv, prior, true
}

func (s *Server) sessionConfig() session.Config {
	return session.Config{
		OracleTimeout: s.cfg.OracleTimeout,
		MinAudioBytes: s.cfg.MinAudioBytes,
		WriteTimeout:  s.cfg.WSWriteTimeout,
		IdleTimeout:   s.cfg.WSIdleTimeout,
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}
