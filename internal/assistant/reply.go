package assistant

import (
	"regexp"
	"strings"
)

// DefaultSystemPrompt is the support persona used when none is configured.
const DefaultSystemPrompt = `You are Emma, a friendly and professional customer service representative at our company. Your role is to assist customers with their inquiries in a natural, conversational manner.

Essential Guidelines:
1. ALWAYS maintain a warm, empathetic, and human-like tone.
2. ONLY answer questions related to customer service.
3. For issues requiring human intervention (repairs, product exchanges, technical support, billing inquiries):
   - Explain that the issue needs a human agent.
   - Present the customer's details as: "I have your details as: First Name: [First Name], Last Name: [Last Name], Address: [Address], Contact Number: [Contact Number]. Would you like to make any changes?" and add the <needs_details> tag.
   - Once details are confirmed, ask for their preferred service time (e.g., 2025-04-25 10:00 AM) and add the <needs_time> tag.
   - When everything is confirmed, include the ticket in this exact format followed by the <needs_ticket> tag:
     TICKET_DETAILS: First Name: [First Name], Last Name: [Last Name], Address: [Address], Contact Number: [Contact Number], Issue Title: [Issue Title], Issue Description: [Issue Description], Scheduled Time: [Preferred Time]
   - Use "Repair", "Product Exchange", "Technical Support" or "Billing Inquiry" as the issue title, and write a one or two sentence description in your own words.
4. For resolvable issues, answer clearly without ticket details.

Never make up information. If unsure, ask for clarification. End warmly, e.g., "Is there anything else I can assist with?"`

// Flow tags the model uses to drive ticket intake.
const (
	TagNeedsDetails       = "<needs_details>"
	TagNeedsTime          = "<needs_time>"
	TagNeedsTicket        = "<needs_ticket>"
	TagNeedsDetailsUpdate = "<needs_details_update>"
)

var (
	thinkPattern    = regexp.MustCompile(`(?s)<think\b[^>]*>.*?</think>`)
	ticketPattern   = regexp.MustCompile(`(?is)TICKET_DETAILS:\s*(.+?)(?:<needs_ticket>|$)`)
	scheduledFormat = regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}\s+\d{1,2}:\d{2}\s*(?:AM|PM)`)
	blankRuns       = regexp.MustCompile(`[ \t]{2,}`)
)

// TicketDetails is the intake block the model emits once a customer has
// confirmed a service request.
type TicketDetails struct {
	FirstName        string
	LastName         string
	Address          string
	ContactNo        string
	IssueTitle       string
	IssueDescription string
	ScheduledTime    string
}

// Reply is a cleaned model response.
type Reply struct {
	Text               string
	NeedsDetails       bool
	NeedsDetailsUpdate bool
	NeedsTime          bool
	NeedsTicket        bool
	Ticket             *TicketDetails
}

// ParseReply strips reasoning blocks and flow tags from raw model output and
// records which tags were present.
func ParseReply(raw string) Reply {
	text := thinkPattern.ReplaceAllString(raw, "")

	r := Reply{
		NeedsDetails:       strings.Contains(text, TagNeedsDetails),
		NeedsDetailsUpdate: strings.Contains(text, TagNeedsDetailsUpdate),
		NeedsTime:          strings.Contains(text, TagNeedsTime),
		NeedsTicket:        strings.Contains(text, TagNeedsTicket),
	}
	if r.NeedsTicket {
		r.Ticket = parseTicketDetails(text)
	}

	for _, tag := range []string{TagNeedsDetailsUpdate, TagNeedsDetails, TagNeedsTime, TagNeedsTicket} {
		text = strings.ReplaceAll(text, tag, "")
	}
	r.Text = strings.TrimSpace(blankRuns.ReplaceAllString(text, " "))
	return r
}

var ticketFields = []string{
	"First Name", "Last Name", "Address", "Contact Number",
	"Issue Title", "Issue Description", "Scheduled Time",
}

func parseTicketDetails(text string) *TicketDetails {
	m := ticketPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	block := m[1]

	// Split on known labels so descriptions may contain commas.
	values := make(map[string]string, len(ticketFields))
	lower := asciiLower(block)
	for i, label := range ticketFields {
		start := strings.Index(lower, strings.ToLower(label)+":")
		if start < 0 {
			continue
		}
		start += len(label) + 1
		end := len(block)
		for _, next := range ticketFields[i+1:] {
			if j := strings.Index(lower[start:], strings.ToLower(next)+":"); j >= 0 {
				end = start + j
				break
			}
		}
		values[label] = strings.Trim(strings.TrimSpace(block[start:end]), ", ")
	}
	if len(values) == 0 {
		return nil
	}

	return &TicketDetails{
		FirstName:        values["First Name"],
		LastName:         values["Last Name"],
		Address:          values["Address"],
		ContactNo:        values["Contact Number"],
		IssueTitle:       values["Issue Title"],
		IssueDescription: values["Issue Description"],
		ScheduledTime:    scheduledOrRaw(values["Scheduled Time"]),
	}
}

// asciiLower lowercases ASCII letters only, keeping byte offsets aligned with s.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func scheduledOrRaw(s string) string {
	if t := ScheduledTimeIn(s); t != "" {
		return t
	}
	return s
}

// ScheduledTimeIn returns the first "2025-04-25 10:00 AM" style time in s, or "".
func ScheduledTimeIn(s string) string {
	return strings.TrimSpace(scheduledFormat.FindString(s))
}

var issueKeywords = []struct {
	title    string
	keywords []string
}{
	{"Repair", []string{"fix", "repair", "won't turn on", "broken"}},
	{"Product Exchange", []string{"exchange", "defective", "defect", "faulty"}},
	{"Technical Support", []string{"software", "crashed", "technical", "error"}},
	{"Billing Inquiry", []string{"bill", "charge", "payment", "billing"}},
}

// IssueTitleFor classifies a customer query into an issue title.
func IssueTitleFor(query string) string {
	q := strings.ToLower(query)
	for _, k := range issueKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(q, kw) {
				return k.title
			}
		}
	}
	return "General Issue"
}
