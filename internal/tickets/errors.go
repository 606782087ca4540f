package tickets

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates the ticket is not in a state that allows the operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTicketNotFound indicates the ticket no longer exists.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrEmailUnresolved matches every *EmailUnresolvedError.
	ErrEmailUnresolved = errors.New("recipient email unresolved")
)

// Reasons reported when the owner's address cannot be determined.
const (
	ReasonNoOwner         = "User ID not found in ticket. Please enter email manually."
	ReasonNoValidEmail    = "No valid email found for this user. Please enter email manually."
	ReasonProfileNotFound = "User profile not found. Please enter email manually."
	ReasonLookupFailed    = "Failed to fetch user email. Please enter the email manually."
	ReasonInvalidOverride = "Please enter a valid email address."
)

// EmailUnresolvedError is returned when no deliverable address is known for
// a ticket. Callers recover by asking for an address and approving again
// with ApproveOptions.Recipient.
type EmailUnresolvedError struct {
	TicketID string
	Reason   string
	Err      error
}

func (e *EmailUnresolvedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ticket %s: %s: %v", e.TicketID, e.Reason, e.Err)
	}
	return fmt.Sprintf("ticket %s: %s", e.TicketID, e.Reason)
}

func (e *EmailUnresolvedError) Unwrap() error { return e.Err }

func (e *EmailUnresolvedError) Is(target error) bool { return target == ErrEmailUnresolved }
