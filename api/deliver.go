package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wakafine/ticketqr/bridge"
)

type deliverRequest struct {
	Phone string `json:"phone"`
}

// handleDeliver sends the ticket code over WhatsApp. The body is optional;
// without a phone the passenger's own number is used.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if s.Delivery == nil {
		writeError(w, http.StatusServiceUnavailable, "whatsapp delivery is disabled")
		return
	}

	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}

	res, err := s.Delivery.Deliver(r.Context(), t, req.Phone)
	switch {
	case errors.Is(err, bridge.ErrNoRecipient):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.Log.Error("ticket delivery failed", "pnr", t.PNR, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
