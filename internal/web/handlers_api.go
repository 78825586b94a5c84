package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"homewire/internal/capture"
	"homewire/internal/hub"
	"homewire/internal/session"
)

const (
	defaultCaptureLimit = 100
	maxCaptureLimit     = 10000
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.hub.Device(r.PathValue("name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

type captureResponse struct {
	Device  string           `json:"device"`
	Records []capture.Record `json:"records"`
}

func (s *Server) handleAPICapture(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "capture not enabled")
		return
	}

	limit := defaultCaptureLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxCaptureLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}

	name := r.PathValue("name")
	records, err := s.journal.List(name, limit)
	switch {
	case errors.Is(err, capture.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no frames captured for device")
		return
	case err != nil:
		s.logger.Error("list capture", "device", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, captureResponse{Device: name, Records: records})
}

func (s *Server) handleAPISendCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var cmd map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.hub.Command(r.Context(), name, cmd)
	status := commandStatus(err)
	switch {
	case err == nil:
		s.writeJSON(w, status, map[string]string{"status": "ok"})
	case status == http.StatusNotFound:
		s.writeError(w, status, "device not found")
	default:
		if status == http.StatusBadGateway {
			s.logger.Error("send command", "device", name, "err", err)
		}
		s.writeError(w, status, err.Error())
	}
}

// commandStatus maps a hub.Command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, hub.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, hub.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrOffline), errors.Is(err, session.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
