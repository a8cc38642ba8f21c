// Package admin exposes a small read-mostly HTTP surface for operators:
// health, game status, and pausing/resuming the market timer. It is
// separate from the game wire protocol and optional at startup.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jweaver-ca/stock-ticker/internal/game"
	"github.com/jweaver-ca/stock-ticker/internal/wire"
)

// SessionCounter reports how many clients are connected.
type SessionCounter interface {
	SessionCount() int
}

type Server struct {
	log      *slog.Logger
	game     *game.Game
	sessions SessionCounter
	mux      *chi.Mux
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Game    string       `json:"game"`
	Status  string       `json:"status"`
	Players []string     `json:"players"`
	Market  []wire.Quote `json:"market"`
	Clients int          `json:"clients"`
	EndTime string       `json:"end_time,omitempty"`
}

func New(logger *slog.Logger, g *game.Game, sessions SessionCounter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		game:     g,
		sessions: sessions,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Game:    s.game.Name,
		Status:  s.game.Status().String(),
		Players: s.game.PlayerNames(),
		Market:  s.game.MarketSummary(),
		Clients: s.sessions.SessionCount(),
	}
	if end := s.game.EndTime(); !end.IsZero() {
		resp.EndTime = end.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.game.PauseTicking()
	s.log.Info("market ticking paused", "game", s.game.Name)
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.game.ResumeTicking()
	s.log.Info("market ticking resumed", "game", s.game.Name)
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
