package rate

import (
	"context"
	"fmt"
	"time"
)

// Class — группа эндпоинтов с общим бюджетом запросов.
type Class string

const (
	ClassLogin             Class = "login"
	ClassPasswordReset     Class = "password_reset"
	ClassEmailVerification Class = "email_verification"
	ClassGeneral           Class = "general"
)

var Classes = []Class{ClassLogin, ClassPasswordReset, ClassEmailVerification, ClassGeneral}

// Limiter — fixed window. retryAfter > 0 только при отказе.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) Validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return fmt.Errorf("rate policy needs positive limit and window, got %d/%s", p.Limit, p.Window)
	}
	return nil
}

// Key склеивает класс и адрес клиента: у разных классов разные счётчики.
func Key(class Class, clientIP string) string {
	return string(class) + ":" + clientIP
}
