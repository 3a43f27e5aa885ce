package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimw "github.com/probeworks/probemeter/internal/httpapi/middleware"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/repo"
	"github.com/probeworks/probemeter/internal/service"
)

type Server struct {
	Logger    *zap.Logger
	Svc       *service.Service
	PauseFile string
}

func NewServer(l *zap.Logger, svc *service.Service, pauseFile string) *Server {
	return &Server{Logger: l, Svc: svc, PauseFile: pauseFile}
}

func (s *Server) Router(keys apimw.Keys, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAny(keys))
		r.Use(apimw.RateLimit(publicRPM, publicBurst))

		r.Post("/api/topup", s.handleTopUp)
		r.Post("/api/register", s.handleRegister)
		r.Post("/api/consume", s.handleConsume)

		r.Get("/api/targets", s.handleListTargets)
		r.Get("/api/targets/{cid}/reports", s.handleTargetReports)
		r.Get("/api/targets/{cid}/stats", s.handleTargetStats)

		r.Get("/api/sessions/{token}/watchers", s.handleListWatchers)
		r.Get("/api/sessions/{token}/watchers/{wid}/reports", s.handleWatcherReports)
		r.Get("/api/sessions/{token}/ledger", s.handleLedger)
		r.Delete("/api/sessions/{token}", s.handleDeleteSession)

		r.Post("/api/watchers/{wid}/enable", s.handleEnableWatcher(true))
		r.Post("/api/watchers/{wid}/disable", s.handleEnableWatcher(false))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys))
		r.Use(apimw.RateLimit(adminRPM, adminBurst))

		r.Put("/admin/pause", s.handleSetPause)
		r.Delete("/admin/pause", s.handleClearPause)
		r.Get("/admin/pause", s.handleGetPause)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	return r
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, repo.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient funds"})
	default:
		s.Logger.Error("api_internal_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func limitQuery(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

// ---- pause marker ----

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	if dir := filepath.Dir(s.PauseFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	if err := os.WriteFile(s.PauseFile, []byte("paused\n"), 0o644); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Logger.Warn("pause_set")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleClearPause(w http.ResponseWriter, r *http.Request) {
	if err := os.Remove(s.PauseFile); err != nil && !os.IsNotExist(err) {
		s.writeErr(w, err)
		return
	}
	s.Logger.Info("pause_cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleGetPause(w http.ResponseWriter, r *http.Request) {
	_, err := os.Stat(s.PauseFile)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": err == nil})
}
