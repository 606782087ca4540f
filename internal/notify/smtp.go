package notify

import (
	"context"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	logger   *slog.Logger
}

// NewSMTPSender creates a sender for host:port with the given credentials.
func NewSMTPSender(host string, port int, username, password, from, fromName string, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{
		dialer:   gomail.NewDialer(host, port, username, password),
		from:     from,
		fromName: fromName,
		logger:   logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &DispatchError{Reason: "cancelled", Err: err}
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("smtp send failed", "to", msg.To, "error", err)
		return &DispatchError{Reason: err.Error(), Err: err}
	}
	s.logger.Info("email sent", "transport", "smtp", "to", msg.To)
	return nil
}
