package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/raphaelgruber/vserve/internal/models"
)

// Replies the intake sends on its own, without asking the model.
const (
	PromptServiceTime = "Please provide your preferred time for the service (e.g., 2025-04-25 10:00 AM)."
	PromptInvalidTime = "Please provide a valid time format (e.g., 2025-04-25 10:00 AM)."
	PromptNewDetails  = "Please provide the updated details: First Name: [Your First Name], Last Name: [Your Last Name], " +
		"Address: [Your Address], Contact Number: [Your Contact Number]"
)

const (
	// DefaultIntakeCapacity bounds how many in-flight intakes are remembered.
	DefaultIntakeCapacity = 4096
	maxDescriptionLen     = 150
	descriptionContext    = 3
	describeSystemPrompt  = "You are a helpful assistant that writes concise issue descriptions."
)

// Stage is where a customer is in the ticket intake conversation.
type Stage int

const (
	StageNone Stage = iota
	StageConfirmDetails
	StageUpdateDetails
	StageAwaitTime
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageConfirmDetails:
		return "confirm_details"
	case StageUpdateDetails:
		return "update_details"
	case StageAwaitTime:
		return "await_time"
	}
	return "unknown"
}

// Describer summarizes a customer's recent messages into an issue description.
type Describer interface {
	Describe(ctx context.Context, queries []string) (string, error)
}

// ProfileFunc loads the signed-in customer's saved contact details.
type ProfileFunc func(ctx context.Context) (models.UserProfile, error)

// Turn is the outcome of one customer message. Ticket is set when intake
// finished and a ticket should be filed with those details.
type Turn struct {
	Text   string
	Stage  Stage
	Ticket *TicketDetails

	userID string
	next   intakeState
}

type intakeState struct {
	stage   Stage
	details TicketDetails
}

// Intake runs the chat side of ticket filing: it fills the customer's saved
// details into the model's confirmation, collects a service time and hands
// back a complete ticket. State is kept per user and only advances when the
// caller commits a turn.
type Intake struct {
	responder Responder
	describer Describer
	states    *lru.Cache[string, intakeState]
	capacity  int
	logger    *slog.Logger
}

// IntakeOption configures an Intake.
type IntakeOption func(*Intake)

// WithDescriber overrides how issue descriptions are written.
func WithDescriber(d Describer) IntakeOption {
	return func(in *Intake) { in.describer = d }
}

// WithIntakeCapacity bounds how many users' intake state is kept.
func WithIntakeCapacity(n int) IntakeOption {
	return func(in *Intake) {
		if n > 0 {
			in.capacity = n
		}
	}
}

// WithIntakeLogger sets the logger.
func WithIntakeLogger(l *slog.Logger) IntakeOption {
	return func(in *Intake) { in.logger = l }
}

// NewIntake wraps r. If r can also describe issues it is used for that.
func NewIntake(r Responder, opts ...IntakeOption) *Intake {
	in := &Intake{responder: r, capacity: DefaultIntakeCapacity, logger: slog.Default()}
	if d, ok := r.(Describer); ok {
		in.describer = d
	}
	for _, opt := range opts {
		opt(in)
	}
	in.states, _ = lru.New[string, intakeState](in.capacity)
	return in
}

// Stage reports where userID currently is.
func (in *Intake) Stage(userID string) Stage {
	st, _ := in.states.Peek(userID)
	return st.stage
}

// Handle asks the model for a reply to query and advances userID's intake.
// The returned turn must be passed to Commit once the exchange is recorded.
func (in *Intake) Handle(ctx context.Context, userID string, profile ProfileFunc, history []models.Message, query string) (Turn, error) {
	reply, err := in.responder.Reply(ctx, history, query)
	if err != nil {
		return Turn{}, err
	}
	st, _ := in.states.Peek(userID)
	turn := Turn{Text: reply.Text, userID: userID}

	switch {
	case reply.NeedsDetails:
		d, err := detailsFromProfile(ctx, profile)
		if err != nil {
			return Turn{}, err
		}
		d.IssueTitle = IssueTitleFor(query)
		turn.Text = FillDetails(reply.Text, d)
		turn.next = intakeState{stage: StageConfirmDetails, details: d}

	case st.stage == StageConfirmDetails && !reply.NeedsTime && !reply.NeedsTicket:
		if confirmsDetails(query) {
			turn.Text = PromptServiceTime
			turn.next = intakeState{stage: StageAwaitTime, details: st.details}
		} else {
			turn.Text = PromptNewDetails
			turn.next = intakeState{stage: StageUpdateDetails, details: st.details}
		}

	case reply.NeedsDetailsUpdate || st.stage == StageUpdateDetails:
		d := st.details
		if st.stage == StageNone {
			if d, err = detailsFromProfile(ctx, profile); err != nil {
				return Turn{}, err
			}
			d.IssueTitle = IssueTitleFor(query)
		}
		turn.Text = PromptServiceTime
		turn.next = intakeState{stage: StageAwaitTime, details: applyDetailUpdates(d, query)}

	case st.stage == StageAwaitTime:
		when := ScheduledTimeIn(query)
		if when == "" {
			turn.Text = PromptInvalidTime
			turn.next = st
			break
		}
		d := st.details
		d.ScheduledTime = when
		d.IssueDescription = in.describe(ctx, d.IssueTitle, history)
		turn.Text = ticketSummary(d)
		turn.Ticket = &d

	case reply.NeedsTime:
		d := st.details
		if st.stage == StageNone {
			if d, err = detailsFromProfile(ctx, profile); err != nil {
				return Turn{}, err
			}
			d.IssueTitle = IssueTitleFor(query)
		}
		turn.Text = FillDetails(reply.Text, d)
		turn.next = intakeState{stage: StageAwaitTime, details: d}

	case reply.NeedsTicket && reply.Ticket != nil:
		base, err := detailsFromProfile(ctx, profile)
		if err != nil {
			return Turn{}, err
		}
		d := mergeDetails(*reply.Ticket, base)
		if d.IssueTitle == "" {
			d.IssueTitle = IssueTitleFor(query)
		}
		turn.Text = FillDetails(reply.Text, d)
		turn.Ticket = &d
	}

	turn.Stage = turn.next.stage
	return turn, nil
}

// Commit stores the intake state reached by t.
func (in *Intake) Commit(t Turn) {
	if t.next.stage == StageNone {
		in.states.Remove(t.userID)
		return
	}
	in.states.Add(t.userID, t.next)
}

// Reset drops userID's intake state.
func (in *Intake) Reset(userID string) {
	in.states.Remove(userID)
}

func (in *Intake) describe(ctx context.Context, title string, history []models.Message) string {
	fallback := "Customer reported an issue with " + strings.ToLower(title)

	var queries []string
	for _, m := range history {
		if m.Role == models.RoleUser {
			queries = append(queries, m.Text)
		}
	}
	if len(queries) == 0 || in.describer == nil {
		return fallback
	}
	if len(queries) > descriptionContext {
		queries = queries[len(queries)-descriptionContext:]
	}

	desc, err := in.describer.Describe(ctx, queries)
	if err != nil {
		in.logger.Warn("describe issue", "error", err)
		return fallback
	}
	if desc = cleanDescription(desc); desc == "" {
		return fallback
	}
	return desc
}

func cleanDescription(s string) string {
	s = thinkPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if r := []rune(s); len(r) > maxDescriptionLen {
		s = string(r[:maxDescriptionLen-3]) + "..."
	}
	return s
}

var (
	confirmPattern = regexp.MustCompile(`(?i)\b(?:no|correct|looks good)\b`)
	updatePatterns = map[string]*regexp.Regexp{
		"first":   regexp.MustCompile(`(?i)First Name:\s*([^,]+)`),
		"last":    regexp.MustCompile(`(?i)Last Name:\s*([^,]+)`),
		"address": regexp.MustCompile(`(?i)Address:\s*([^,]+)`),
		"contact": regexp.MustCompile(`(?i)Contact Number:\s*([^,]+)`),
	}
	placeholders = []struct {
		pattern *regexp.Regexp
		value   func(TicketDetails) string
	}{
		{regexp.MustCompile(`(?i)\[First Name\]`), func(d TicketDetails) string { return d.FirstName }},
		{regexp.MustCompile(`(?i)\[Last Name\]`), func(d TicketDetails) string { return d.LastName }},
		{regexp.MustCompile(`(?i)\[Address\]`), func(d TicketDetails) string { return d.Address }},
		{regexp.MustCompile(`(?i)\[Contact Number\]`), func(d TicketDetails) string { return d.ContactNo }},
	}
)

// "no" answers "would you like to make any changes?"
func confirmsDetails(query string) bool {
	return confirmPattern.MatchString(query)
}

func applyDetailUpdates(d TicketDetails, query string) TicketDetails {
	set := func(key string, field *string) {
		if m := updatePatterns[key].FindStringSubmatch(query); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				*field = v
			}
		}
	}
	set("first", &d.FirstName)
	set("last", &d.LastName)
	set("address", &d.Address)
	set("contact", &d.ContactNo)
	return d
}

// FillDetails replaces contact placeholders such as [First Name] in text,
// ignoring case.
func FillDetails(text string, d TicketDetails) string {
	for _, p := range placeholders {
		text = p.pattern.ReplaceAllLiteralString(text, p.value(d))
	}
	return text
}

func detailsFromProfile(ctx context.Context, profile ProfileFunc) (TicketDetails, error) {
	var p models.UserProfile
	if profile != nil {
		var err error
		if p, err = profile(ctx); err != nil {
			return TicketDetails{}, fmt.Errorf("load profile: %w", err)
		}
	}
	or := func(v, fallback string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return fallback
	}
	return TicketDetails{
		FirstName: or(p.FirstName, "Unknown First Name"),
		LastName:  or(p.LastName, "Unknown Last Name"),
		Address:   or(p.Address, "Unknown Address"),
		ContactNo: or(p.ContactNo, "Unknown Contact Number"),
	}, nil
}

// mergeDetails keeps the model's values unless they are empty or placeholders.
func mergeDetails(d, base TicketDetails) TicketDetails {
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" || models.IsPlaceholder(v) {
			return fallback
		}
		return v
	}
	d.FirstName = pick(d.FirstName, base.FirstName)
	d.LastName = pick(d.LastName, base.LastName)
	d.Address = pick(d.Address, base.Address)
	d.ContactNo = pick(d.ContactNo, base.ContactNo)
	d.IssueTitle = pick(d.IssueTitle, "")
	d.IssueDescription = pick(d.IssueDescription, "")
	d.ScheduledTime = pick(d.ScheduledTime, "")
	return d
}

func ticketSummary(d TicketDetails) string {
	return fmt.Sprintf("Thank you! A ticket is being created. TICKET_DETAILS: First Name: %s, Last Name: %s, "+
		"Address: %s, Contact Number: %s, Issue Title: %s, Issue Description: %s, Scheduled Time: %s",
		d.FirstName, d.LastName, d.Address, d.ContactNo, d.IssueTitle, d.IssueDescription, d.ScheduledTime)
}
