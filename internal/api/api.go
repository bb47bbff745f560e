// Package api is the producer-facing HTTP surface: publishing alerts,
// reading the recent window, health, and the websocket upgrade path.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"alertd/internal/dispatch"
	"alertd/internal/registry"
	"alertd/pkg/alert"
	"alertd/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config configures the HTTP surface.
type Config struct {
	// AuthToken guards the /v1 producer routes when non-empty. The
	// websocket and health paths stay open: devices carry no producer
	// credentials.
	AuthToken string
}

type Server struct {
	cfg   Config
	disp  *dispatch.Dispatcher
	reg   *registry.Registry
	ws    http.Handler
	log   logx.Logger
	start time.Time
}

func NewServer(cfg Config, disp *dispatch.Dispatcher, reg *registry.Registry, ws http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, disp: disp, reg: reg, ws: ws, log: log, start: time.Now()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/alerts", s.handlePublish)
		r.Get("/alerts/recent", s.handleRecent)
	})
	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var cand alert.Candidate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&cand); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	a, err := s.disp.Publish(r.Context(), cand)
	if err != nil {
		if errors.Is(err, alert.ErrInvalidAlert) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("publish failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// 202: fan-out is asynchronous past enumeration.
	writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	alerts := s.disp.Recent(limit)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type health struct {
		Status     string `json:"status"`
		UptimeSec  int64  `json:"uptime_sec"`
		Goroutines int    `json:"goroutines"`
		Clients    int    `json:"clients"`
	}
	clients := 0
	if s.reg != nil {
		clients = s.reg.Len()
	}
	writeJSON(w, http.StatusOK, health{
		Status:     "ok",
		UptimeSec:  int64(time.Since(s.start).Seconds()),
		Goroutines: runtime.NumGoroutine(),
		Clients:    clients,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
