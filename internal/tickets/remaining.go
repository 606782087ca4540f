package tickets

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/vserve/internal/models"
)

// Remaining is the human-readable time left before a ticket's deadline.
type Remaining struct {
	Text    string `json:"text"`
	Overdue bool   `json:"overdue"`
}

// NoDeadline is shown for tickets without a deadline.
const NoDeadline = "No deadline"

// ComputeRemaining formats the time until deadline, floored to whole minutes.
// A deadline at or before now is overdue.
func ComputeRemaining(deadline, now time.Time) Remaining {
	left := deadline.Sub(now)
	if left <= 0 {
		return Remaining{Text: "Overdue", Overdue: true}
	}
	hours := int64(left / time.Hour)
	minutes := int64((left % time.Hour) / time.Minute)
	return Remaining{Text: fmt.Sprintf("%dh %dm remaining", hours, minutes)}
}

// RemainingFor is ComputeRemaining for a ticket that may lack a deadline.
func RemainingFor(t models.Ticket, now time.Time) Remaining {
	if t.Deadline == nil {
		return Remaining{Text: NoDeadline}
	}
	return ComputeRemaining(*t.Deadline, now)
}

// Counts summarizes a ticket list for the admin dashboard.
type Counts struct {
	Open       int `json:"open" yaml:"open"`
	InProgress int `json:"in_progress" yaml:"in_progress"`
	Closed     int `json:"closed" yaml:"closed"`
	Overdue    int `json:"overdue" yaml:"overdue"`
}

// Total is the number of classified tickets.
func (c Counts) Total() int {
	return c.Open + c.InProgress + c.Closed
}

// Classify counts tickets per status. Overdue counts tickets that are not
// closed and whose deadline has passed.
func Classify(tickets []models.Ticket, now time.Time) Counts {
	var c Counts
	for _, t := range tickets {
		switch t.Status {
		case models.StatusOpen:
			c.Open++
		case models.StatusInProgress:
			c.InProgress++
		case models.StatusClosed:
			c.Closed++
		}
		if t.Status != models.StatusClosed && t.Deadline != nil && !t.Deadline.After(now) {
			c.Overdue++
		}
	}
	return c
}
