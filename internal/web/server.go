// Package web serves the collaborator side of learning sessions: a JSON API
// the quiz page drives plus a websocket feed of session state changes. It
// shares coordinators with the MCP server through the registry, so a session
// created for any scope is reachable here and submitting answers in the
// browser wakes the blocked learning_session call.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/kokistudios/sidecar/internal/learning"
	"github.com/kokistudios/sidecar/internal/record"
)

// Server hosts the learning session API for browsers.
type Server struct {
	addr     string
	registry *learning.Registry
	hub      *Hub
}

// NewServer creates a web server over the given coordinator registry.
func NewServer(addr string, registry *learning.Registry) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		hub:      NewHub(registry),
	}
}

// Router builds the HTTP handler. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.Get("/stats", s.handleStats)
		r.Get("/{sessionID}", s.handleGet)
		r.Post("/{sessionID}/start", s.handleStart)
		r.Post("/{sessionID}/submit", s.handleSubmit)
		r.Post("/{sessionID}/cancel", s.handleCancel)
	})
	r.Get("/ws", s.hub.HandleWebSocket)

	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	log.Info("learning UI listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// coordFor finds the coordinator owning the session, whichever scope it was
// created under.
func (s *Server) coordFor(id string) (*learning.Coordinator, error) {
	for _, c := range s.registry.All() {
		if _, err := c.Get(id); err == nil {
			return c, nil
		}
	}
	return nil, record.ErrNotFound
}

// handleLatest returns the newest session still waiting for a human across
// all scopes the agent has touched.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	var latest *record.LearningSession
	for _, c := range s.registry.All() {
		sess, err := c.FindLatestWaiting()
		if err != nil {
			continue
		}
		if latest == nil || sess.CreatedAt > latest.CreatedAt ||
			(sess.CreatedAt == latest.CreatedAt && sess.ID > latest.ID) {
			latest = sess
		}
	}
	if latest == nil {
		writeError(w, record.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var total learning.Statistics
	for _, c := range s.registry.All() {
		stats := c.Storage().GetStatistics()
		total.TotalSessions += stats.TotalSessions
		total.TotalQuizScore += stats.TotalQuizScore
		total.TotalTimeSpent += stats.TotalTimeSpent
	}
	writeJSON(w, http.StatusOK, total)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	coord, err := s.coordFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := coord.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	coord, err := s.coordFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := coord.MarkStarted(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type submitRequest struct {
	Score   int      `json:"score"`
	Answers []string `json:"answers"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	coord, err := s.coordFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := coord.Complete(chi.URLParam(r, "sessionID"), req.Score, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	coord, err := s.coordFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := coord.Cancel(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeError(w http.ResponseWriter, err error) {
	var illegal *learning.ErrIllegalTransition
	switch {
	case errors.Is(err, record.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusConflict, map[string]string{"error": illegal.Error()})
	default:
		log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response encode failed", "err", err)
	}
}
