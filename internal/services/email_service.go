package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	FromName     string
	AppName      string
	FrontendURL  string
}

// EmailService — SMTP-реализация Notifier. Без SMTPHost работает в dry-run:
// пишет в лог факт отправки (без кода) и ничего не шлёт.
type EmailService struct {
	dialer      mailDialer
	from        string
	fromName    string
	appName     string
	frontendURL string
	logger      *slog.Logger
	dryRun      bool
}

func NewEmailService(cfg EmailConfig, logger *slog.Logger) *EmailService {
	s := &EmailService{
		from:        cfg.FromEmail,
		fromName:    cfg.FromName,
		appName:     cfg.AppName,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		logger:      logger,
	}
	if s.appName == "" {
		s.appName = "Shopflow"
	}
	if cfg.SMTPHost == "" {
		s.dryRun = true
		return s
	}
	s.dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	return s
}

func (s *EmailService) Send(ctx context.Context, recipient string, purpose Purpose, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := s.render(purpose, payload)
	if err != nil {
		return err
	}
	if s.dryRun {
		s.logger.Info("[mail][dry-run] message not sent", "purpose", purpose, "to", maskEmail(recipient))
		return nil
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send %s email: %w", purpose, err)
	}
	return nil
}

func (s *EmailService) render(purpose Purpose, p Payload) (string, string, error) {
	name := html.EscapeString(p.Name)
	app := html.EscapeString(s.appName)
	switch purpose {
	case PurposeEmailVerification:
		return "Verify your email", fmt.Sprintf(`
			<h2>Hi %s,</h2>
			<p>Use this code to verify your %s account:</p>
			<p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p>
			<p>The code expires in %s. If you did not sign up, ignore this email.</p>
		`, name, app, html.EscapeString(p.Code), humanTTL(p.TTL)), nil
	case PurposeWelcome:
		link := ""
		if s.frontendURL != "" {
			link = fmt.Sprintf(`<p><a href="%s/login">Sign in</a></p>`, html.EscapeString(s.frontendURL))
		}
		return "Welcome to " + s.appName, fmt.Sprintf(`
			<h2>Welcome, %s!</h2>
			<p>Your email is verified and your %s account is ready.</p>
			%s
		`, name, app, link), nil
	case PurposePasswordReset:
		return "Password reset code", fmt.Sprintf(`
			<h3>Password reset requested</h3>
			<p>Hi %s, use this code to reset your password:</p>
			<p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p>
			<p>The code expires in %s. If you did not request this, you can ignore this email.</p>
		`, name, html.EscapeString(p.Code), humanTTL(p.TTL)), nil
	case PurposePasswordChanged:
		return "Your password was changed", fmt.Sprintf(`
			<h3>Password changed</h3>
			<p>Hi %s, the password for your %s account was just changed.</p>
			<p>If this wasn't you, reset your password immediately.</p>
		`, name, app), nil
	case PurposeAccountDeactivated:
		return "Your account was deactivated", fmt.Sprintf(`
			<h3>Account deactivated</h3>
			<p>Hi %s, your %s account has been deactivated.</p>
		`, name, app), nil
	default:
		return "", "", fmt.Errorf("unknown notification purpose %q", purpose)
	}
}

func humanTTL(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
}

// maskEmail: alice@x.com -> a***@x.com
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
