package models

import "time"

type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PasswordHash string `json:"-"` // не отдаём наружу
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	IsVerified   bool   `json:"is_verified"`

	// sha256 от живого refresh-токена; не больше одного на аккаунт
	RefreshTokenHash *string `json:"-"`

	// коды храним только как HMAC; хэш и срок выставляются и чистятся вместе
	EmailVerificationOTPHash *string    `json:"-"`
	EmailVerificationExpiry  *time.Time `json:"-"`
	PasswordResetOTPHash     *string    `json:"-"`
	PasswordResetExpiry      *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// HasPendingVerification reports whether a verification code is still usable at now.
func (a *Account) HasPendingVerification(now time.Time) bool {
	return a.EmailVerificationOTPHash != nil && a.EmailVerificationExpiry != nil && now.Before(*a.EmailVerificationExpiry)
}

func (a *Account) HasPendingReset(now time.Time) bool {
	return a.PasswordResetOTPHash != nil && a.PasswordResetExpiry != nil && now.Before(*a.PasswordResetExpiry)
}

func (a *Account) DisplayName() string {
	if a.FirstName != "" {
		return a.FirstName
	}
	return a.Username
}

// Clone returns a deep copy; pointer fields are not shared.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.RefreshTokenHash = cloneString(a.RefreshTokenHash)
	cp.EmailVerificationOTPHash = cloneString(a.EmailVerificationOTPHash)
	cp.PasswordResetOTPHash = cloneString(a.PasswordResetOTPHash)
	cp.EmailVerificationExpiry = cloneTime(a.EmailVerificationExpiry)
	cp.PasswordResetExpiry = cloneTime(a.PasswordResetExpiry)
	cp.LastLoginAt = cloneTime(a.LastLoginAt)
	cp.DeletedAt = cloneTime(a.DeletedAt)
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
