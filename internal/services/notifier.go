package services

import (
	"context"
	"log/slog"
	"time"

	"shopflow/internal/metrics"
)

type Purpose string

const (
	PurposeEmailVerification  Purpose = "email_verification"
	PurposeWelcome            Purpose = "welcome"
	PurposePasswordReset      Purpose = "password_reset"
	PurposePasswordChanged    Purpose = "password_changed"
	PurposeAccountDeactivated Purpose = "account_deactivated"
)

// Payload — данные для шаблона. Code заполняется только для OTP-писем.
type Payload struct {
	Name     string
	Username string
	Code     string
	TTL      time.Duration
}

// Notifier доставляет сообщение получателю. Ошибка значит, что сообщение
// точно не ушло или статус неизвестен.
type Notifier interface {
	Send(ctx context.Context, recipient string, purpose Purpose, payload Payload) error
}

type notifierGroup struct {
	primary   Notifier
	observers []Notifier
	logger    *slog.Logger
}

// NewNotifierGroup: результат определяет primary (email), остальные каналы
// получают копию события, их ошибки только логируются.
func NewNotifierGroup(primary Notifier, logger *slog.Logger, observers ...Notifier) Notifier {
	return &notifierGroup{primary: primary, observers: observers, logger: logger}
}

func (g *notifierGroup) Send(ctx context.Context, recipient string, purpose Purpose, payload Payload) error {
	err := g.primary.Send(ctx, recipient, purpose, payload)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(string(purpose), "primary").Inc()
	}
	for _, o := range g.observers {
		if oerr := o.Send(ctx, recipient, purpose, payload); oerr != nil {
			metrics.NotificationFailures.WithLabelValues(string(purpose), "observer").Inc()
			g.logger.Warn("[notify] observer send failed", "purpose", purpose, "error", oerr)
		}
	}
	return err
}
