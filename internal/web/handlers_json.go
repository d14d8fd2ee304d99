package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultListLimit = 100

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultListLimit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.service.Pause(r.Context())
	s.writeJSON(w, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.service.Resume(r.Context())
	s.writeJSON(w, map[string]string{"status": "active"})
}

func (s *Server) handleManualClose(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClosePositionManually(r.Context()); err != nil {
		s.logger.Error("Manual close failed", zap.Error(err))
		http.Error(w, "Failed to close position", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, map[string]string{"status": "closed"})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	snap := s.service.LastIndicators()
	if snap == nil {
		http.Error(w, "No indicator snapshot yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.tradeRepo.ListTrades(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	samples, err := s.tradeRepo.ListEquitySamples(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list equity samples", zap.Error(err))
		http.Error(w, "Failed to list equity samples", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, samples)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alertRepo.ListAlerts(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list alerts", zap.Error(err))
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, alerts)
}
