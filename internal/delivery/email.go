package delivery

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailSender delivers OTP codes over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailSender creates an email sender for the given SMTP account.
func NewEmailSender(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword),
		from:   fromEmail,
	}
}

// SendCode emails the verification code. The context deadline is enforced by
// the dispatching caller; gomail itself does not take a context.
func (s *EmailSender) SendCode(_ context.Context, email, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your Waypoint verification code")

	body := fmt.Sprintf(`
		<p>Your verification code is:</p>
		<h1 style="font-size: 32px; letter-spacing: 4px;">%s</h1>
		<p>This code expires in 5 minutes.</p>
	`, code)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send code email: %w", err)
	}
	return nil
}
