package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"go.uber.org/zap"
)

// StatusData is the body of GET /api/v1/status.
type StatusData struct {
	Job           mining.Status `json:"job"`
	Host          hardware.Info `json:"host"`
	Oracle        string        `json:"oracle"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	WSClients     int           `json:"ws_clients"`
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req MineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "", "invalid request body: "+err.Error())
		return
	}

	job, err := s.validator.Validate(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.sendError(w, http.StatusBadRequest, verr.Code, verr.Field, verr.Err.Error())
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid_request", "", err.Error())
		return
	}

	result, err := s.miner.Admit(r.Context(), job)
	if err != nil {
		s.logger.Warn("Job rejected", zap.Error(err))
		s.sendError(w, http.StatusBadRequest, "invalid_request", "", err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, NewMineResponse(result, s.config.SourceURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"status": "ok"},
		Time:    time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := StatusData{
		Job:           s.miner.Status(),
		Host:          s.host.Detect(),
		Oracle:        s.oracleName,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.hub != nil {
		data.WSClients = s.hub.Clients()
	}

	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: data, Time: time.Now()})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, field, message string) {
	s.sendJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Field:     field,
		Timestamp: time.Now(),
	})
}
