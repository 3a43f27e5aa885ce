package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/probeworks/probemeter/internal/domain"
)

type topUpPayload struct {
	Token  string `json:"token,omitempty"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var p topUpPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	entry, err := s.Svc.TopUp(r.Context(), domain.Token(p.Token), p.Amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   entry.Token,
		"balance": entry.Balance,
	})
}

type registerPayload struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Interval int    `json:"interval"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var p registerPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	reg, err := s.Svc.RegisterWatcher(r.Context(), domain.Token(p.Token), p.URL, p.Interval)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type consumePayload struct {
	WID  string `json:"wid"`
	Cost int64  `json:"cost"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	var p consumePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.WID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	entry, err := s.Svc.Consume(r.Context(), domain.WID(p.WID), p.Cost)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": entry.Balance})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.Svc.ListTargets(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleTargetReports(w http.ResponseWriter, r *http.Request) {
	cid := domain.CID(chi.URLParam(r, "cid"))
	reports, err := s.Svc.ReportsForTarget(r.Context(), cid, limitQuery(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleTargetStats(w http.ResponseWriter, r *http.Request) {
	cid := domain.CID(chi.URLParam(r, "cid"))
	stats, err := s.Svc.StatsForTarget(r.Context(), cid)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	token := domain.Token(chi.URLParam(r, "token"))
	watchers, err := s.Svc.WatchersForToken(r.Context(), token)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, watchers)
}

func (s *Server) handleWatcherReports(w http.ResponseWriter, r *http.Request) {
	token := domain.Token(chi.URLParam(r, "token"))
	wid := domain.WID(chi.URLParam(r, "wid"))
	reports, err := s.Svc.ReportsForWatcher(r.Context(), token, wid, limitQuery(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	token := domain.Token(chi.URLParam(r, "token"))
	entries, err := s.Svc.LedgerEntries(r.Context(), token, limitQuery(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	token := domain.Token(chi.URLParam(r, "token"))
	if err := s.Svc.DeleteSession(r.Context(), token); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableWatcher(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wid := domain.WID(chi.URLParam(r, "wid"))
		if err := s.Svc.SetWatcherEnabled(r.Context(), wid, enabled); err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wid": wid, "enabled": enabled})
	}
}
