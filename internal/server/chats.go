package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

type sessionsResponse struct {
	Sessions models.ChatSessionSet `json:"sessions"`
	Active   string                `json:"active,omitempty"`
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type messageResponse struct {
	Response string                `json:"response"`
	Sessions models.ChatSessionSet `json:"sessions"`
	Active   string                `json:"active"`
	Stage    string                `json:"stage"`
	Ticket   *models.Ticket        `json:"ticket,omitempty"`
	// Set when intake finished but filing the ticket failed.
	TicketError string `json:"ticket_error,omitempty"`
}

func (s *Server) storeFor(r *http.Request) *chat.Store {
	p, _ := identity.FromContext(r.Context())
	return s.chats.For(p.UserID)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	store := s.storeFor(r)
	set, err := store.LoadAll(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: set, Active: store.ActiveID()})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	session, err := s.storeFor(r).CreateSession(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	store := s.storeFor(r)
	store.SetActive(req.ID)
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: store.Sessions(), Active: store.ActiveID()})
}

// handleSendMessage asks the assistant for a reply and records the exchange.
// When the reply completes ticket intake, the ticket is filed after the
// exchange is stored.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "assistant not configured"})
		return
	}
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Query is required"})
		return
	}

	ctx, sc := r.Context(), scopeFrom(r)
	p, _ := identity.FromContext(ctx)
	store := s.chats.For(p.UserID)

	var history []models.Message
	if req.SessionID != "" {
		sessions := store.Sessions()
		if sessions.Find(req.SessionID) < 0 {
			var err error
			if sessions, err = store.LoadAll(ctx, sc); err != nil {
				writeError(w, s.logger, err)
				return
			}
		}
		i := sessions.Find(req.SessionID)
		if i < 0 {
			writeError(w, s.logger, chat.ErrSessionNotFound)
			return
		}
		history = sessions[i].Messages
	}

	profile := func(ctx context.Context) (models.UserProfile, error) {
		return s.tickets.Profile(ctx, sc)
	}
	turn, err := s.intake.Handle(ctx, p.UserID, profile, history, req.Query)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	set, err := store.AppendMessage(ctx, sc, req.SessionID, req.Query, turn.Text)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.intake.Commit(turn)

	resp := messageResponse{Response: turn.Text, Sessions: set, Active: store.ActiveID(), Stage: turn.Stage.String()}
	if d := turn.Ticket; d != nil {
		t, err := s.tickets.File(ctx, sc, tickets.Request{
			FirstName:        d.FirstName,
			LastName:         d.LastName,
			Address:          d.Address,
			ContactNo:        d.ContactNo,
			IssueTitle:       d.IssueTitle,
			IssueDescription: d.IssueDescription,
			ScheduledTime:    d.ScheduledTime,
		})
		if err != nil {
			// The exchange is already stored; staff can file by hand.
			sc.Logger().Error("file ticket from chat", "error", err)
			resp.TicketError = err.Error()
		} else {
			resp.Ticket = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, s.logger, errBadRequest)
		return
	}
	if err := s.storeFor(r).RenameSession(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), title); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	store := s.storeFor(r)
	set, err := store.DeleteSession(r.Context(), scopeFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: set, Active: store.ActiveID()})
}

