package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyStripsThinkBlocks(t *testing.T) {
	raw := "<think>\nlet me reason\nabout this\n</think>\n\nHello there! <think kind=\"x\">more</think>How can I help?"
	r := ParseReply(raw)
	assert.Equal(t, "Hello there! How can I help?", r.Text)
	assert.False(t, r.NeedsDetails)
	assert.Nil(t, r.Ticket)
}

func TestParseReplyFlowTags(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		text    string
		details bool
		update  bool
		time    bool
	}{
		{
			"details",
			"I have your details as: First Name: John. Would you like to make any changes? <needs_details>",
			"I have your details as: First Name: John. Would you like to make any changes?",
			true, false, false,
		},
		{
			"time",
			"Please provide your preferred time for the service (e.g., 2025-04-25 10:00 AM). <needs_time>",
			"Please provide your preferred time for the service (e.g., 2025-04-25 10:00 AM).",
			false, false, true,
		},
		{
			"details update",
			"Please provide the updated details <needs_details_update>",
			"Please provide the updated details",
			false, true, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(tt.raw)
			assert.Equal(t, tt.text, r.Text)
			assert.Equal(t, tt.details, r.NeedsDetails)
			assert.Equal(t, tt.update, r.NeedsDetailsUpdate)
			assert.Equal(t, tt.time, r.NeedsTime)
			assert.False(t, r.NeedsTicket)
		})
	}
}

func TestParseReplyTicketDetails(t *testing.T) {
	raw := "Thank you! A ticket is being created. TICKET_DETAILS: First Name: John, Last Name: Doe, " +
		"Address: 123 Main St, Contact Number: 555-1234, Issue Title: Repair, " +
		"Issue Description: Laptop failed to power on, even after charging, Scheduled Time: 2025-04-25 10:00 AM " +
		"<needs_ticket> Is there anything else I can help with?"

	r := ParseReply(raw)
	assert.True(t, r.NeedsTicket)
	assert.NotContains(t, r.Text, "<needs_ticket>")
	assert.Contains(t, r.Text, "10:00 AM Is there anything else")

	require.NotNil(t, r.Ticket)
	assert.Equal(t, TicketDetails{
		FirstName:        "John",
		LastName:         "Doe",
		Address:          "123 Main St",
		ContactNo:        "555-1234",
		IssueTitle:       "Repair",
		IssueDescription: "Laptop failed to power on, even after charging",
		ScheduledTime:    "2025-04-25 10:00 AM",
	}, *r.Ticket)
}

func TestParseReplyTicketTagWithoutBlock(t *testing.T) {
	r := ParseReply("Creating your ticket now <needs_ticket>")
	assert.True(t, r.NeedsTicket)
	assert.Nil(t, r.Ticket)
}

func TestIssueTitleFor(t *testing.T) {
	tests := map[string]string{
		"My laptop won't turn on":     "Repair",
		"the phone I got is DEFECTIVE": "Product Exchange",
		"software crashed again":      "Technical Support",
		"wrong charge on my bill":     "Billing Inquiry",
		"where is your store?":        "General Issue",
	}
	for query, want := range tests {
		t.Run(query, func(t *testing.T) {
			assert.Equal(t, want, IssueTitleFor(query))
		})
	}
}

func TestScheduledTimeIn(t *testing.T) {
	assert.Equal(t, "2025-04-25 10:00 AM", ScheduledTimeIn("how about 2025-04-25 10:00 AM please"))
	assert.Equal(t, "2025-04-25 9:30pm", ScheduledTimeIn("2025-04-25 9:30pm"))
	assert.Empty(t, ScheduledTimeIn("tomorrow morning"))
}
