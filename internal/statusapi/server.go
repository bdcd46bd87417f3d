// Package statusapi serves a small read-only HTTP surface for operators:
// health, play-state counts, provider failover counters, and loop stats.
// It never mutates engine state.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/orchestrator"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// FailoverSource exposes provider failover counters.
type FailoverSource interface {
	FailoverCounts() map[string]int64
}

// LoopSource exposes orchestrator loop statistics.
type LoopSource interface {
	Snapshot() orchestrator.Stats
}

// Config tunes the server.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the status HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     playstore.Interface
	failovers FailoverSource
	loop      LoopSource
	clock     *marketclock.Clock
	logger    *logrus.Logger
	port      int
	authToken string
	started   time.Time
}

// NewServer wires the routes. failovers and loop may be nil in one-shot
// modes.
func NewServer(cfg Config, store playstore.Interface, failovers FailoverSource,
	loop LoopSource, clock *marketclock.Clock, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		failovers: failovers,
		loop:      loop,
		clock:     clock,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		started:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/plays/{state}", s.handlePlaysByState)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Status API listening on port %d", s.port)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"time":      time.Now().UTC(),
		"marketday": s.clock.IsOpenToday(),
	})
}

// statusResponse is the operator-facing engine summary.
type statusResponse struct {
	States      map[models.PlayState]int `json:"states"`
	Quarantined int                      `json:"quarantined"`
	Failovers   map[string]int64         `json:"provider_failovers,omitempty"`
	Loop        *orchestrator.Stats      `json:"loop,omitempty"`
	Session     bool                     `json:"primary_session"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		States:      s.store.Counts(),
		Quarantined: s.store.QuarantineCount(),
		Session:     s.clock.IsPrimarySession(),
	}
	if s.failovers != nil {
		resp.Failovers = s.failovers.FailoverCounts()
	}
	if s.loop != nil {
		stats := s.loop.Snapshot()
		resp.Loop = &stats
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePlaysByState(w http.ResponseWriter, r *http.Request) {
	state := models.PlayState(chi.URLParam(r, "state"))
	if !state.Valid() {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	ids, err := s.store.List(state)
	if err != nil {
		s.logger.WithError(err).Error("Listing plays failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	plays := make([]*models.Play, 0, len(ids))
	for _, id := range ids {
		play, err := s.store.Load(id)
		if err != nil {
			s.logger.WithError(err).Warnf("Skipping unreadable play %s", id)
			continue
		}
		plays = append(plays, play)
	}
	s.writeJSON(w, plays)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response failed")
	}
}
