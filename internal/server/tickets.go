package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// ticketView is a ticket plus its countdown as of the response time.
type ticketView struct {
	models.Ticket
	Remaining tickets.Remaining `json:"remaining"`
}

func viewTickets(list []models.Ticket, now time.Time) []ticketView {
	out := make([]ticketView, len(list))
	for i, t := range list {
		out[i] = ticketView{Ticket: t, Remaining: tickets.RemainingFor(t, now)}
	}
	return out
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := s.tickets.List(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTickets(list, s.tickets.Now()))
}

func (s *Server) handleFileTicket(w http.ResponseWriter, r *http.Request) {
	var req tickets.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	t, err := s.tickets.File(r.Context(), scopeFrom(r), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTicketStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.tickets.Stats(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		tickets.Counts
		Total int `json:"total"`
	}{counts, counts.Total()})
}

type approveRequest struct {
	Recipient string `json:"recipient"`
	HTML      string `json:"html"`
}

// handleApprove emails the ticket owner and moves the ticket to In Progress.
// An unresolved address answers 422 with the reason; the client retries
// with a recipient.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	ctx, sc := r.Context(), scopeFrom(r)
	t, err := s.tickets.Get(ctx, sc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	approval, err := s.tickets.Approve(ctx, sc, t, tickets.ApproveOptions{Recipient: req.Recipient, HTML: req.HTML})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.TicketStatus `json:"status"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status"})
		return
	}
	if err := s.tickets.SetStatus(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), req.Status); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisapprove(w http.ResponseWriter, r *http.Request) {
	if err := s.tickets.Disapprove(r.Context(), scopeFrom(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
