package mailer

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/caldave/caldave/internal/storage"
)

// sendSMTP delivers through the calendar's own SMTP account.
func sendSMTP(ctx context.Context, cfg *storage.SMTPConfig, to []string, subject, method string, body []byte) error {
	msg := gomail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return fmt.Errorf("smtp from %q: %w", cfg.From, err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("smtp recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.ContentType(fmt.Sprintf("text/calendar; method=%s; charset=UTF-8", method)), string(body))

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
	}
	if cfg.Secure {
		opts = append(opts, gomail.WithSSLPort(false))
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", cfg.Host, err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
