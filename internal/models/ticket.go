package models

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus is the lifecycle state of a service ticket.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "Open"
	StatusInProgress TicketStatus = "In Progress"
	StatusClosed     TicketStatus = "Closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Ticket is a service request filed by a user.
type Ticket struct {
	ID               string       `json:"id" yaml:"id"`
	Status           TicketStatus `json:"status" yaml:"status"`
	Deadline         *time.Time   `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	LastUpdated      *time.Time   `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	CreatedAt        *time.Time   `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	OwnerRef         string       `json:"user_id" yaml:"user_id"`
	FirstName        string       `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName         string       `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Address          string       `json:"address,omitempty" yaml:"address,omitempty"`
	ContactNo        string       `json:"contact_no,omitempty" yaml:"contact_no,omitempty"`
	IssueTitle       string       `json:"issue_title,omitempty" yaml:"issue_title,omitempty"`
	IssueDescription string       `json:"issue_description,omitempty" yaml:"issue_description,omitempty"`
	ScheduledTime    string       `json:"scheduled_time,omitempty" yaml:"scheduled_time,omitempty"`
	UserRole         string       `json:"user_role,omitempty" yaml:"user_role,omitempty"`
}

// CustomerName joins the ticket's first and last name.
func (t Ticket) CustomerName() string {
	switch {
	case t.FirstName == "":
		return t.LastName
	case t.LastName == "":
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// ticketRecord mirrors the stored layout before timestamps are parsed.
type ticketRecord struct {
	Status           string `mapstructure:"status"`
	Deadline         any    `mapstructure:"deadline"`
	LastUpdated      any    `mapstructure:"last_updated"`
	CreatedAt        any    `mapstructure:"created_at"`
	UserID           string `mapstructure:"user_id"`
	OwnerReference   string `mapstructure:"owner_reference"`
	FirstName        string `mapstructure:"first_name"`
	LastName         string `mapstructure:"last_name"`
	Address          string `mapstructure:"address"`
	ContactNo        string `mapstructure:"contact_no"`
	IssueTitle       string `mapstructure:"issue_title"`
	IssueDescription string `mapstructure:"issue_description"`
	ScheduledTime    string `mapstructure:"scheduled_time"`
	UserRole         string `mapstructure:"user_role"`
}

// DecodeTicket validates a ticket document. A missing status reads as Open.
func DecodeTicket(id string, data map[string]any) (Ticket, error) {
	var rec ticketRecord
	if err := decodeInto(data, &rec); err != nil {
		return Ticket{}, schemaErr(CollectionTickets, id, "decode: %v", err)
	}

	status := TicketStatus(rec.Status)
	if status == "" {
		status = StatusOpen
	}
	if !status.Valid() {
		return Ticket{}, schemaErr(CollectionTickets, id, "unknown status %q", rec.Status)
	}

	t := Ticket{
		ID:               id,
		Status:           status,
		OwnerRef:         rec.UserID,
		FirstName:        rec.FirstName,
		LastName:         rec.LastName,
		Address:          rec.Address,
		ContactNo:        rec.ContactNo,
		IssueTitle:       rec.IssueTitle,
		IssueDescription: rec.IssueDescription,
		ScheduledTime:    rec.ScheduledTime,
		UserRole:         rec.UserRole,
	}
	if t.OwnerRef == "" {
		t.OwnerRef = rec.OwnerReference
	}

	var err error
	if t.Deadline, err = optionalTime(rec.Deadline); err != nil {
		return Ticket{}, schemaErr(CollectionTickets, id, "deadline: %v", err)
	}
	if t.LastUpdated, err = optionalTime(rec.LastUpdated); err != nil {
		return Ticket{}, schemaErr(CollectionTickets, id, "last_updated: %v", err)
	}
	if t.CreatedAt, err = optionalTime(rec.CreatedAt); err != nil {
		return Ticket{}, schemaErr(CollectionTickets, id, "created_at: %v", err)
	}
	return t, nil
}

func optionalTime(v any) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := val.UTC()
		return &t, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		t := val.UTC()
		return &t, nil
	case string:
		if val == "" {
			return nil, nil
		}
		t, err := ParseTimestamp(val)
		if err != nil {
			return nil, err
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

// Encode converts the ticket to its stored layout.
func (t Ticket) Encode() map[string]any {
	out := map[string]any{
		"status":            string(t.Status),
		"user_id":           t.OwnerRef,
		"first_name":        t.FirstName,
		"last_name":         t.LastName,
		"address":           t.Address,
		"contact_no":        t.ContactNo,
		"issue_title":       t.IssueTitle,
		"issue_description": t.IssueDescription,
		"scheduled_time":    t.ScheduledTime,
		"user_role":         t.UserRole,
	}
	if t.Deadline != nil {
		out["deadline"] = FormatTimestamp(*t.Deadline)
	}
	if t.LastUpdated != nil {
		out["last_updated"] = FormatTimestamp(*t.LastUpdated)
	}
	if t.CreatedAt != nil {
		out["created_at"] = FormatTimestamp(*t.CreatedAt)
	}
	return out
}

// IsPlaceholder reports whether v is an unfilled template slot like "[Address]".
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return len(v) >= 2 && v[0] == '[' && v[len(v)-1] == ']'
}
