package api

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	EncoderReady bool   `json:"encoder_ready"`
	WhatsApp     string `json:"whatsapp"`
	Phone        string `json:"phone,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:       "ok",
		Version:      s.Version,
		Uptime:       time.Since(s.StartTime).Truncate(time.Second).String(),
		EncoderReady: s.Renderer.EncoderReady(),
		WhatsApp:     "disabled",
	}
	if s.WhatsApp != nil {
		resp.WhatsApp = string(s.WhatsApp.Status())
		resp.Phone = s.WhatsApp.JID()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.WhatsApp == nil {
		writeError(w, http.StatusServiceUnavailable, "whatsapp is disabled")
		return
	}
	if err := s.WhatsApp.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
