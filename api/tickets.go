package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakafine/ticketqr/store"
	"github.com/wakafine/ticketqr/ticket"
)

func (s *Server) handleSaveTicket(w http.ResponseWriter, r *http.Request) {
	var t ticket.Ticket
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.PNR = strings.TrimSpace(t.PNR)
	if t.PNR == "" {
		t.PNR = ticket.NewPNR()
	}
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Tickets.SaveTicket(r.Context(), t); err != nil {
		s.Log.Error("save ticket failed", "pnr", t.PNR, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	tickets, err := s.Tickets.ListTickets(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tickets == nil {
		tickets = []ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRenderHistory(w http.ResponseWriter, r *http.Request) {
	pnr := chi.URLParam(r, "pnr")
	records, err := s.Tickets.RenderHistory(r.Context(), pnr, queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.RenderRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// loadTicket resolves {pnr} and writes the error response itself on failure.
func (s *Server) loadTicket(w http.ResponseWriter, r *http.Request) (ticket.Ticket, bool) {
	pnr := chi.URLParam(r, "pnr")
	t, err := s.Tickets.GetTicket(r.Context(), pnr)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return ticket.Ticket{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return ticket.Ticket{}, false
	}
	return t, true
}

// queryInt reads a positive integer query parameter, or def.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
