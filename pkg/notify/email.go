package notify

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
)

// Email sends messages over SMTP
type Email struct {
	cfg *config.Config
	log *logger.Logger

	// sendMail delivers the prepared message, replaced in tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail creates a new SMTP notifier
func NewEmail(cfg *config.Config, log *logger.Logger) *Email {
	return &Email{
		cfg:      cfg,
		log:      log,
		sendMail: smtp.SendMail,
	}
}

// Send emails the message, using its first line as subject
func (e *Email) Send(ctx context.Context, text string) error {
	var auth smtp.Auth
	if e.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPass, e.cfg.SMTPHost)
	}

	to := recipients(e.cfg.EmailTo)
	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		e.cfg.EmailFrom,
		strings.Join(to, ", "),
		mime.QEncoding.Encode("utf-8", subject(text)),
		strings.ReplaceAll(text, "\n", "\r\n"),
	))

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	err := sendContext(ctx, func() error {
		return e.sendMail(addr, auth, e.cfg.EmailFrom, to, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: email: %w", ErrDelivery, err)
	}

	e.log.Debugf("Email notification sent to %s", strings.Join(to, ", "))
	return nil
}

func recipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// subject turns the first line of a Markdown message into a mail subject
func subject(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.NewReplacer("*", "", "_", "", "`", "").Replace(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return "Domain watch notification"
	}
	return "Domain watch: " + line
}
