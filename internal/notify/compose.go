package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/raphaelgruber/vserve/internal/models"
)

// ApprovalSubject is the subject line of ticket approval emails.
const ApprovalSubject = "Service Request Approval - V-Serve"

var approvalTemplate = template.Must(template.New("approval").Parse(`
<h1 style="font-size: 28px; color: #213448; text-align: center;">Service Request Approval</h1>
<p style="font-size: 18px; color: #333;">Dear <strong>{{.Name}}</strong>,</p>
<p style="font-size: 16px; color: #555;">
  We are pleased to inform you that your service request has been approved. Our team has reviewed your issue regarding "<strong>{{.Description}}</strong>" with the issue title "<strong>{{.Title}}</strong>", and we will proceed with the necessary actions.
</p>
<hr style="border: 1px solid #D3D8E0;">
<p style="font-size: 18px; color: #547792;"><strong>Your ticket details:</strong></p>
<ul style="font-size: 16px; color: #555;">
  <li><strong>Ticket ID:</strong> {{.TicketID}}</li>
  <li><strong>Issue:</strong> {{.Issue}}</li>
  <li><strong>Issue Title:</strong> {{.Title}}</li>
  <li><strong>Scheduled Time:</strong> {{.Scheduled}}</li>
</ul>
<hr style="border: 1px solid #D3D8E0;">
<p style="font-size: 16px; color: #555;">We will contact you shortly with further details about the service appointment.</p>
<p style="font-size: 16px; color: #555;">Thank you for choosing our services.</p>
<p style="font-size: 18px; color: #333;"><strong>Best regards,</strong><br>
  <span style="font-size: 20px; color: #547792;"><strong>Customer Service Team, V-Serve</strong></span>
</p>
`))

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ComposeApproval renders the approval email for t addressed to recipient.
func ComposeApproval(t models.Ticket, recipient string) (Message, error) {
	name := orDefault(t.FirstName, "Customer")
	var buf bytes.Buffer
	err := approvalTemplate.Execute(&buf, map[string]string{
		"Name":        name,
		"Description": orDefault(t.IssueDescription, "your request"),
		"Issue":       orDefault(t.IssueDescription, "N/A"),
		"Title":       orDefault(t.IssueTitle, "N/A"),
		"TicketID":    orDefault(t.ID, "N/A"),
		"Scheduled":   orDefault(t.ScheduledTime, "To be confirmed"),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render approval email: %w", err)
	}
	return Message{
		To:      recipient,
		ToName:  name,
		Subject: ApprovalSubject,
		HTML:    buf.String(),
	}, nil
}
