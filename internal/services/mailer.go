package services

import (
	"context"
	"fmt"

	"github.com/codeak/portal/internal/config"
	"github.com/codeak/portal/pkg/logger"
	"github.com/wneessen/go-mail"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		logger.Error("mail_send_failed", err, map[string]interface{}{
			"to":      to,
			"subject": subject,
		})
		return err
	}

	logger.Info("mail_sent", map[string]interface{}{
		"to":      to,
		"subject": subject,
	})
	return nil
}

// LogMailer records outgoing mail in the log instead of delivering it. It is
// used when no SMTP host is configured. Bodies carry verification codes and
// reset links and the log file is readable by mentors, so only the envelope
// is written.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger.Warn("mail_not_delivered", map[string]interface{}{
		"to":         to,
		"subject":    subject,
		"body_bytes": len(body),
	})
	return nil
}

func NewMailer(cfg config.SMTPConfig) Mailer {
	if cfg.Host == "" {
		logger.Warn("smtp_disabled", map[string]interface{}{
			"reason": "smtp host not configured, mail is written to the log",
		})
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

func VerificationEmail(code string) (subject, body string) {
	return "CodeAK: email verification",
		fmt.Sprintf("Your verification code is %s.\n\nEnter it on your profile page to confirm this address.", code)
}

func PasswordResetEmail(link string) (subject, body string) {
	return "CodeAK: password reset",
		fmt.Sprintf("A password reset was requested for your account.\n\nOpen %s within one hour to choose a new password. If you did not request it, ignore this message.", link)
}
