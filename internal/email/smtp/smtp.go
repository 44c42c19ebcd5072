// Package smtp sends email through an SMTP relay, such as Gmail on port 587.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-mail/mail"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/krypto"
)

// TLSMode selects how the connection to the relay is secured.
type TLSMode string

const (
	// TLSStartTLS upgrades a plain connection, typically on port 587.
	TLSStartTLS TLSMode = "starttls"
	// TLSImplicit connects over TLS right away, typically on port 465.
	TLSImplicit TLSMode = "ssl"
	// TLSNone never upgrades. Only for local relays.
	TLSNone TLSMode = "none"
)

// ParseTLSMode parses a TLS mode as it appears in configuration.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(s) {
	case TLSStartTLS, TLSImplicit, TLSNone:
		return TLSMode(s), nil
	default:
		return "", fmt.Errorf("unknown smtp tls mode %q", s)
	}
}

// Settings contains the settings for the SMTP relay.
type Settings struct {
	Host     string
	Port     int
	Username string
	Password krypto.Secret
	TLSMode  TLSMode
	// Timeout bounds dialing and each command when ctx has no deadline.
	Timeout time.Duration
}

// Sender sends every message over its own SMTP connection.
// It is safe for concurrent use.
type Sender struct {
	settings Settings
}

func NewSender(s Settings) *Sender {
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}

	return &Sender{
		settings: s,
	}
}

func (s *Sender) Send(ctx context.Context, from, recipient email.Address, msg email.Message) error {
	m := mail.NewMessage()
	m.SetHeader("From", string(from))
	m.SetHeader("To", string(recipient))
	m.SetHeader("Subject", msg.Subject)

	// multipart/alternative when there is html, the text part comes first.
	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	d := s.dialer(ctx)

	// go-mail has no context support, run the exchange in the background
	// and stop waiting when ctx is done. The dialer timeout ends it eventually.
	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (s *Sender) dialer(ctx context.Context) *mail.Dialer {
	d := mail.NewDialer(s.settings.Host, s.settings.Port, s.settings.Username, s.settings.Password.SecretString())
	d.Timeout = s.settings.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < d.Timeout {
			d.Timeout = left
		}
	}

	switch s.settings.TLSMode {
	case TLSImplicit:
		d.SSL = true
		d.TLSConfig = &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
	case TLSNone:
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
		d.TLSConfig = &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
	}

	return d
}
