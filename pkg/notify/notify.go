// Package notify delivers the check outcome by email. Delivery is
// best-effort: the check itself already completed by the time this runs.
package notify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"path/filepath"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog/log"
)

// Mailer sends self-addressed notification emails over implicit-TLS SMTP.
type Mailer struct {
	addr     string // host:port
	host     string
	account  string
	password string
}

// NewMailer creates a Mailer. account doubles as sender and recipient: the
// notification goes back to the mailbox the OTP came from.
func NewMailer(addr, account, password string) (*Mailer, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}
	return &Mailer{addr: addr, host: host, account: account, password: password}, nil
}

// Send delivers one email, attaching the screenshot when present.
func (m *Mailer) Send(subject, body string, screenshotPath string, screenshot []byte) error {
	e := email.NewEmail()
	e.From = m.account
	e.To = []string{m.account}
	e.Subject = subject
	e.Text = []byte(body)

	if len(screenshot) > 0 {
		name := "screenshot.png"
		if screenshotPath != "" {
			name = filepath.Base(screenshotPath)
		}
		if _, err := e.Attach(bytes.NewReader(screenshot), name, "image/png"); err != nil {
			// A result email without the screenshot still beats no email.
			log.Warn().Err(err).Msg("failed to attach screenshot")
		}
	}

	auth := smtp.PlainAuth("", m.account, m.password, m.host)
	if err := e.SendWithTLS(m.addr, auth, &tls.Config{ServerName: m.host}); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}

	log.Info().Str("subject", subject).Msg("notification email sent")
	return nil
}
