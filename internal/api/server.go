// Package api implements Hayden's operator HTTP API: health, version,
// scheduler introspection, manual job runs and a loopback chat endpoint
// that drives the conversation engine without a chat transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/hayden/internal/buildinfo"
	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/conversation"
	"github.com/nugget/hayden/internal/scheduler"
)

// Scheduler is the job registry the API inspects and triggers.
type Scheduler interface {
	Stats() scheduler.Stats
	Trigger(ctx context.Context, name string) (*scheduler.Execution, error)
}

// Poller runs a reminder tick on demand.
type Poller interface {
	Poll(ctx context.Context, now time.Time) (scheduler.PollResult, error)
}

// Engine runs conversation turns.
type Engine interface {
	Handle(ctx context.Context, t conversation.Turn) (string, error)
	Mode(chatID string) conversation.Mode
}

// Gate admits loopback chat messages the same way inbound chat is
// admitted, returning the chat key or a rejection reason.
type Gate interface {
	Admit(m chat.Message) (key string, reason string)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds the dependencies for a Server. Nil dependencies disable
// their endpoints (they answer 503). The chat endpoint needs both
// Engine and Gate.
type Config struct {
	Address   string
	Port      int
	Scheduler Scheduler
	Poller    Poller
	Engine    Engine
	Gate      Gate
	Checks    map[string]HealthCheck
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	scheduler Scheduler
	poller    Poller
	engine    Engine
	gate      Gate
	checks    map[string]HealthCheck
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   cfg.Address,
		port:      cfg.Port,
		scheduler: cfg.Scheduler,
		poller:    cfg.Poller,
		engine:    cfg.Engine,
		gate:      cfg.Gate,
		checks:    cfg.Checks,
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the API's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.withLogging)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/scheduler/stats", s.handleSchedulerStats)
		r.Post("/scheduler/jobs/{name}/run", s.handleJobRun)
		r.Post("/reminders/poll", s.handleReminderPoll)
		r.Post("/chat", s.handleChat)
	})
	return r
}

// Start serves until the listener fails or Shutdown is called. A
// Start that loses the race with Shutdown returns nil immediately.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // loopback chat waits on the model
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting API server", "address", s.address, "port", s.port)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", chimw.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Hayden",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

// handleHealth runs every registered check. Any failure turns the
// response into a 503 listing the failing dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": status}
	if len(results) > 0 {
		body["checks"] = results
	}
	s.writeJSON(w, code, body)
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not enabled")
		return
	}
	name := chi.URLParam(r, "name")

	exec, err := s.scheduler.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case exec == nil && err != nil:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		// A failed run is still a completed request; the execution
		// carries the failure.
		s.writeJSON(w, http.StatusOK, exec)
	}
}

func (s *Server) handleReminderPoll(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "reminder poller not enabled")
		return
	}
	res, err := s.poller.Poll(r.Context(), s.now())
	if err != nil {
		s.logger.Error("manual reminder poll failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ChatRequest is the loopback chat request. Room is optional; when set
// the turn belongs to the room's chat, as if User had mentioned the bot
// there.
type ChatRequest struct {
	User    string `json:"user"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// ChatResponse is the loopback chat response.
type ChatResponse struct {
	Response string `json:"response"`
	ChatID   string `json:"chat_id"`
	Mode     string `json:"mode"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil || s.gate == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation engine not enabled")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.User == "" {
		s.errorResponse(w, http.StatusBadRequest, "user is required")
		return
	}

	// Room turns count as addressed to the bot; the whitelists still apply.
	chatID, reason := s.gate.Admit(chat.Message{
		Sender:       req.User,
		Room:         req.Room,
		Text:         req.Message,
		MentionsSelf: req.Room != "",
	})
	if reason != "" {
		s.logger.Warn("loopback chat rejected", "user", req.User, "room", req.Room, "reason", reason)
		s.errorResponse(w, http.StatusForbidden, "rejected: "+reason)
		return
	}

	reply, err := s.engine.Handle(r.Context(), conversation.Turn{
		ChatID:   chatID,
		UserName: req.User,
		Text:     req.Message,
	})
	if err != nil {
		s.logger.Error("loopback chat failed", "chat_id", chatID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Response: reply,
		ChatID:   chatID,
		Mode:     s.engine.Mode(chatID).String(),
	})
}
