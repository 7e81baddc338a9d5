package alert

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/velzox/apimon/core"
)

// EmailSink delivers alerts over SMTP. Plain-text body, one message per
// alert.
type EmailSink struct {
	cfg    core.EmailConfig
	logger core.Logger

	// send is swapped out by tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSink builds an SMTP sink.
func NewEmailSink(cfg core.EmailConfig, logger core.Logger) *EmailSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &EmailSink{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Channel implements core.Sink.
func (s *EmailSink) Channel() core.AlertChannel {
	return core.ChannelEmail
}

// Deliver implements core.Sink.
func (s *EmailSink) Deliver(ctx context.Context, a *core.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	recipients := splitRecipients(s.cfg.To)
	msg := s.buildMessage(a, recipients)

	if err := s.send(addr, auth, s.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	s.logger.Debug("Email alert delivered", map[string]interface{}{
		"alert_id":   a.ID,
		"recipients": len(recipients),
	})
	return nil
}

func (s *EmailSink) buildMessage(a *core.Alert, recipients []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	// Titles carry emoji, so the subject must be RFC 2047 encoded.
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", a.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Severity: %s\r\n\r\n%s\r\n", a.Severity, a.Message)
	return []byte(b.String())
}

func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
