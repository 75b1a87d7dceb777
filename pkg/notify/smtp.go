package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/chainsafe/registry-middleware/pkg/config"
)

// SMTPSink delivers notifications as plain-text email.
type SMTPSink struct {
	addr    string
	from    string
	subject string
	auth    smtp.Auth
	timeout time.Duration

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink creates an email sink from configuration.
func NewSMTPSink(cfg *config.NotificationConfig) *SMTPSink {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return &SMTPSink{
		addr:    net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		from:    cfg.From,
		subject: cfg.Subject,
		auth:    auth,
		timeout: cfg.SendTimeout,
		send:    smtp.SendMail,
	}
}

// Notify sends the notification to its destination address.
func (s *SMTPSink) Notify(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Destination) == "" {
		return fmt.Errorf("party %q has no contact address", n.PartyID)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg := s.message(n)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.send(s.addr, s.auth, s.from, []string{n.Destination}, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", n.Destination, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", n.Destination, ctx.Err())
	}
}

func (s *SMTPSink) message(n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", n.Destination)
	fmt.Fprintf(&b, "Subject: %s\r\n", s.subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.Body())
	b.WriteString("\r\n")
	return []byte(b.String())
}
