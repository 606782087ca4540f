package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/vserve/internal/assistant"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/notify"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

type errorBody struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

var errBadRequest = errors.New("invalid request body")

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var unresolved *tickets.EmailUnresolvedError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, docstore.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tickets.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, tickets.ErrInvalidTransition),
		errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusConflict
	case errors.As(err, &unresolved),
		errors.Is(err, models.ErrSchemaViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, notify.ErrDispatch),
		errors.Is(err, assistant.ErrFatalAPI):
		return http.StatusBadGateway
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var unresolved *tickets.EmailUnresolvedError
	if errors.As(err, &unresolved) {
		body.Reason = unresolved.Reason
		body.TicketID = unresolved.TicketID
	}
	var dispatch *notify.DispatchError
	if errors.As(err, &dispatch) {
		body.Reason = dispatch.Reason
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request error", "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}
