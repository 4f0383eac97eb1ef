// Package http serves the leaderboard and emulator status.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/storage"
	"github.com/cartridge/emulator/internal/supervisor"
)

const maxLimit = 100

// StatusSource reports the supervisor lifecycle state.
type StatusSource interface {
	State() supervisor.State
}

// Status is the body of GET /api/v1/status.
type Status struct {
	Supervisor supervisor.State `json:"supervisor"`
	Ready      bool             `json:"ready"`
	Uptime     string           `json:"uptime"`
}

// Server wires HTTP handlers to the leaderboard and supervisor.
type Server struct {
	store   storage.Store
	status  StatusSource
	logger  zerolog.Logger
	started time.Time
}

// NewServer constructs a Server instance. status may be nil when no
// emulator is supervised by this process.
func NewServer(store storage.Store, status StatusSource, logger zerolog.Logger) *Server {
	return &Server{
		store:   store,
		status:  status,
		logger:  logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/leaderboard/{entryID}", s.handleEntry)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{Supervisor: supervisor.StateStopped, Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.status != nil {
		st.Supervisor = s.status.State()
	}
	st.Ready = st.Supervisor == supervisor.StateConnected || st.Supervisor == supervisor.StateRunning
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultCapacity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	entries, err := s.store.Top(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Get(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
