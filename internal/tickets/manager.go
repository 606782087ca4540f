// Package tickets manages the service ticket lifecycle: filing, approval
// with customer notification, disapproval, and deadline tracking.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/notify"
)

// Default deadline and appointment offsets for new tickets.
const (
	DefaultDeadline      = 72 * time.Hour
	DefaultAppointmentIn = 72 * time.Hour
)

// Manager runs ticket operations against the document store.
type Manager struct {
	docs       docstore.Store
	dispatcher notify.Dispatcher
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides ticket id allocation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. dispatcher may be nil if Approve is never used.
func NewManager(docs docstore.Store, dispatcher notify.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		docs:       docs,
		dispatcher: dispatcher,
		now:        time.Now,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func actor(ctx context.Context, sc *identity.Scope) (context.Context, identity.Principal, error) {
	p, err := sc.Actor()
	if err != nil {
		return ctx, p, err
	}
	return identity.WithPrincipal(ctx, p), p, nil
}

// Request holds the fields a user supplies when filing a ticket.
type Request struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Address          string `json:"address"`
	ContactNo        string `json:"contact_no"`
	IssueTitle       string `json:"issue_title"`
	IssueDescription string `json:"issue_description"`
	ScheduledTime    string `json:"scheduled_time"`
}

// File creates an Open ticket owned by the signed-in user with a deadline
// 72 hours out. Missing contact details are filled from the user's profile.
func (m *Manager) File(ctx context.Context, sc *identity.Scope, req Request) (models.Ticket, error) {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return models.Ticket{}, err
	}

	profile, err := m.profile(ctx, p.UserID)
	if err != nil {
		return models.Ticket{}, err
	}

	now := m.now().UTC()
	deadline := now.Add(DefaultDeadline)
	t := models.Ticket{
		ID:               m.newID(),
		Status:           models.StatusOpen,
		CreatedAt:        &now,
		Deadline:         &deadline,
		OwnerRef:         p.UserID,
		FirstName:        firstNonEmpty(req.FirstName, profile.FirstName),
		LastName:         firstNonEmpty(req.LastName, profile.LastName),
		Address:          firstNonEmpty(req.Address, profile.Address),
		ContactNo:        firstNonEmpty(req.ContactNo, profile.ContactNo),
		IssueTitle:       firstNonEmpty(req.IssueTitle, "General Issue"),
		IssueDescription: firstNonEmpty(req.IssueDescription, "Unspecified issue"),
		ScheduledTime:    firstNonEmpty(req.ScheduledTime, now.Add(DefaultAppointmentIn).Format("2006-01-02 03:04 PM")),
		UserRole:         firstNonEmpty(profile.Role, p.Role),
	}
	if err := m.docs.SetDocument(ctx, models.CollectionTickets, t.ID, t.Encode()); err != nil {
		return models.Ticket{}, fmt.Errorf("file ticket: %w", err)
	}
	m.logger.Info("ticket filed", "ticket_id", t.ID, "user_id", p.UserID)
	return t, nil
}

// Profile reads the signed-in user's saved contact details. A user without a
// document gets an empty profile.
func (m *Manager) Profile(ctx context.Context, sc *identity.Scope) (models.UserProfile, error) {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return models.UserProfile{}, err
	}
	return m.profile(ctx, p.UserID)
}

func (m *Manager) profile(ctx context.Context, userID string) (models.UserProfile, error) {
	doc, err := m.docs.GetDocument(ctx, models.CollectionChats, userID)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("read profile: %w", err)
	}
	if doc == nil {
		return models.UserProfile{}, nil
	}
	return models.DecodeUserProfile(userID, doc.Data)
}

// firstNonEmpty skips blanks and unfilled "[Field]" slots.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" && !models.IsPlaceholder(s) {
			return s
		}
	}
	return ""
}

// Get reads one ticket. Returns ErrTicketNotFound if it does not exist.
func (m *Manager) Get(ctx context.Context, sc *identity.Scope, id string) (models.Ticket, error) {
	ctx, _, err := actor(ctx, sc)
	if err != nil {
		return models.Ticket{}, err
	}
	doc, err := m.docs.GetDocument(ctx, models.CollectionTickets, id)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	if doc == nil {
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return models.DecodeTicket(doc.ID, doc.Data)
}

// List returns the tickets visible to the actor: all of them for admins,
// otherwise only the actor's own. Malformed documents are logged and skipped.
func (m *Manager) List(ctx context.Context, sc *identity.Scope) ([]models.Ticket, error) {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return nil, err
	}
	docs, err := m.docs.ListCollection(ctx, models.CollectionTickets)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	tickets, bad := decodeAll(docstore.Filter(docs, visibleTo(p)))
	for _, err := range bad {
		m.logger.Warn("skipping malformed ticket", "error", err)
	}
	return tickets, nil
}

func visibleTo(p identity.Principal) docstore.Predicate {
	if p.IsAdmin() {
		return nil
	}
	return docstore.FieldEquals("user_id", p.UserID)
}

// decodeAll decodes docs, ordering tickets by deadline (missing last) then id.
func decodeAll(docs []docstore.Document) ([]models.Ticket, []error) {
	tickets := make([]models.Ticket, 0, len(docs))
	var bad []error
	for _, d := range docs {
		t, err := models.DecodeTicket(d.ID, d.Data)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		tickets = append(tickets, t)
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].Deadline, tickets[j].Deadline
		switch {
		case a == nil && b == nil:
			return tickets[i].ID < tickets[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return tickets[i].ID < tickets[j].ID
	})
	return tickets, bad
}

// Watch streams the actor's visible tickets. onChange receives the full list
// after every change; malformed documents are reported to onError and skipped.
// The subscription ends on sign-out.
func (m *Manager) Watch(ctx context.Context, sc *identity.Scope, onChange func([]models.Ticket), onError func(error)) (docstore.Unsubscribe, error) {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}
	unsub, err := m.docs.SubscribeCollection(ctx, models.CollectionTickets, visibleTo(p),
		func(docs []docstore.Document) {
			tickets, bad := decodeAll(docs)
			for _, err := range bad {
				onError(err)
			}
			onChange(tickets)
		}, onError)
	if err != nil {
		return nil, fmt.Errorf("watch tickets: %w", err)
	}
	sc.OnSignOut(unsub)
	return unsub, nil
}

// ResolveRecipient looks up the email address of the ticket's owner.
func (m *Manager) ResolveRecipient(ctx context.Context, sc *identity.Scope, t models.Ticket) (string, error) {
	ctx, _, err := actor(ctx, sc)
	if err != nil {
		return "", err
	}
	return m.resolveRecipient(ctx, t)
}

func (m *Manager) resolveRecipient(ctx context.Context, t models.Ticket) (string, error) {
	if t.OwnerRef == "" {
		return "", &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonNoOwner}
	}
	doc, err := m.docs.GetDocument(ctx, models.CollectionChats, t.OwnerRef)
	if err != nil {
		return "", &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonLookupFailed, Err: err}
	}
	if doc == nil {
		return "", &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonProfileNotFound}
	}
	profile, err := models.DecodeUserProfile(t.OwnerRef, doc.Data)
	if err != nil {
		return "", &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonLookupFailed, Err: err}
	}
	if !models.ValidEmail(profile.Email) {
		return "", &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonNoValidEmail}
	}
	return profile.Email, nil
}

// ApproveOptions adjusts an approval.
type ApproveOptions struct {
	// Recipient overrides the owner's address, e.g. after EmailUnresolved.
	Recipient string
	// HTML replaces the composed email body.
	HTML string
}

// Approval describes a completed approval.
type Approval struct {
	TicketID  string              `json:"ticket_id"`
	Recipient string              `json:"recipient"`
	Status    models.TicketStatus `json:"status"`
	SentAt    time.Time           `json:"sent_at"`
}

// Approve notifies the ticket owner and, only once the email was accepted,
// moves the ticket from Open to In Progress. A dispatch failure is returned
// as *notify.DispatchError and leaves the status untouched.
func (m *Manager) Approve(ctx context.Context, sc *identity.Scope, t models.Ticket, opts ApproveOptions) (Approval, error) {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return Approval{}, err
	}
	if t.Status != models.StatusOpen {
		return Approval{}, fmt.Errorf("%w: ticket %s is %q", ErrInvalidTransition, t.ID, t.Status)
	}
	if m.dispatcher == nil {
		return Approval{}, &notify.DispatchError{Reason: "no mail transport configured"}
	}

	recipient := strings.TrimSpace(opts.Recipient)
	if recipient != "" {
		if !models.ValidEmail(recipient) {
			return Approval{}, &EmailUnresolvedError{TicketID: t.ID, Reason: ReasonInvalidOverride}
		}
	} else if recipient, err = m.resolveRecipient(ctx, t); err != nil {
		return Approval{}, err
	}

	msg, err := notify.ComposeApproval(t, recipient)
	if err != nil {
		return Approval{}, err
	}
	if opts.HTML != "" {
		msg.HTML = opts.HTML
	}

	if err := m.dispatcher.Send(ctx, msg); err != nil {
		var de *notify.DispatchError
		if !errors.As(err, &de) {
			err = &notify.DispatchError{Reason: err.Error(), Err: err}
		}
		m.logger.Warn("approval email not sent", "ticket_id", t.ID, "error", err)
		return Approval{}, err
	}
	sentAt := m.now().UTC()

	if err := m.setStatus(ctx, t.ID, models.StatusInProgress); err != nil {
		m.logger.Error("approval email sent but status update failed", "ticket_id", t.ID, "error", err)
		return Approval{}, err
	}

	m.logger.Info("ticket approved", "ticket_id", t.ID, "by", p.UserID, "recipient", recipient)
	return Approval{TicketID: t.ID, Recipient: recipient, Status: models.StatusInProgress, SentAt: sentAt}, nil
}

// SetStatus writes status and last_updated on an existing ticket.
func (m *Manager) SetStatus(ctx context.Context, sc *identity.Scope, id string, status models.TicketStatus) error {
	ctx, _, err := actor(ctx, sc)
	if err != nil {
		return err
	}
	return m.setStatus(ctx, id, status)
}

func (m *Manager) setStatus(ctx context.Context, id string, status models.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	err := m.docs.UpdateFields(ctx, models.CollectionTickets, id, map[string]any{
		"status":       string(status),
		"last_updated": models.FormatTimestamp(m.now()),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("set ticket status: %w", err)
	}
	return nil
}

// Disapprove permanently deletes a ticket. Deleting a ticket that is already
// gone succeeds.
func (m *Manager) Disapprove(ctx context.Context, sc *identity.Scope, id string) error {
	ctx, p, err := actor(ctx, sc)
	if err != nil {
		return err
	}
	if err := m.docs.DeleteDocument(ctx, models.CollectionTickets, id); err != nil {
		return fmt.Errorf("disapprove ticket: %w", err)
	}
	m.logger.Info("ticket disapproved", "ticket_id", id, "by", p.UserID)
	return nil
}

// Stats classifies the actor's visible tickets at the current time.
func (m *Manager) Stats(ctx context.Context, sc *identity.Scope) (Counts, error) {
	tickets, err := m.List(ctx, sc)
	if err != nil {
		return Counts{}, err
	}
	return Classify(tickets, m.now()), nil
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}
