// Package notify sends applicant confirmation e-mails.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-mail/mail"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPNotifier mails the applicant when an application with an e-mail
// field is stored.
type SMTPNotifier struct {
	from   string
	dialer dialer
	logger loan.Logger
}

var _ loan.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier creates a notifier from configuration. TLS mode "ssl"
// uses implicit TLS, "none" disables certificate checks for local relays;
// anything else negotiates STARTTLS when offered.
func NewSMTPNotifier(cfg config.NotifyConfig, logger loan.Logger) (*SMTPNotifier, error) {
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("smtp notifier requires smtp_host and smtp_from")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	d := mail.NewDialer(cfg.SMTPHost, port, cfg.SMTPUser, cfg.SMTPPassword)
	d.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost}
	switch cfg.SMTPTLS {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return newSMTPNotifier(cfg.SMTPFrom, d, logger), nil
}

func newSMTPNotifier(from string, d dialer, logger loan.Logger) *SMTPNotifier {
	return &SMTPNotifier{from: from, dialer: d, logger: logger}
}

// ApplicationSubmitted sends the confirmation. Records without an e-mail
// are skipped.
func (n *SMTPNotifier) ApplicationSubmitted(ctx context.Context, rec *loan.SubmittedRecord) error {
	to := strings.TrimSpace(rec.Fields["email"])
	if to == "" {
		n.logger.Debug("no applicant e-mail, skipping confirmation", "application", rec.ID)
		return nil
	}

	m := mail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "We have received your loan application")
	m.SetBody("text/plain", textBody(rec))
	m.AddAlternative("text/html", htmlBody(rec))

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	n.logger.Info("confirmation e-mail sent", "application", rec.ID)
	return nil
}

func greeting(rec *loan.SubmittedRecord) string {
	if name := strings.TrimSpace(rec.Fields["fullName"]); name != "" {
		return "Dear " + name + ","
	}
	return "Hello,"
}

func kindLabel(rec *loan.SubmittedRecord) string {
	if rec.Flow == "" {
		return "loan"
	}
	return rec.Flow + " loan"
}

func textBody(rec *loan.SubmittedRecord) string {
	return fmt.Sprintf("%s\n\nThank you for applying. Your %s application has been received and is under review.\nReference: %s\n\nWe will contact you on %s once the review is complete.\n",
		greeting(rec), kindLabel(rec), rec.ID, rec.PhoneNumber)
}

func htmlBody(rec *loan.SubmittedRecord) string {
	return fmt.Sprintf("<p>%s</p><p>Thank you for applying. Your %s application has been received and is under review.</p><p>Reference: <strong>%s</strong></p>",
		htmlEscape(greeting(rec)), htmlEscape(kindLabel(rec)), htmlEscape(rec.ID))
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;", "'", "&#39;")

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }

// NewNotifierFromConfig returns nil for type "none".
func NewNotifierFromConfig(cfg config.NotifyConfig, logger loan.Logger) (loan.Notifier, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "smtp":
		n, err := NewSMTPNotifier(cfg, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify type: %s", cfg.Type)
	}
}
