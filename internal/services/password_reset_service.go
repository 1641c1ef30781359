package services

import (
	"context"
	"errors"
	"fmt"

	"shopflow/internal/apperr"
	"shopflow/internal/models"
	"shopflow/internal/repositories"
)

// InitiatePasswordReset отвечает одинаково, есть такой email или нет.
// Ошибка доставки письма только логируется: код сохраняется лишь после
// успешной отправки, так что повторный запрос ничем не заблокирован.
func (s *authService) InitiatePasswordReset(ctx context.Context, email string) (err error) {
	defer func() { observe("forgot_password", err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.logger.Info("[auth][forgot] unknown email")
			return nil
		}
		return apperr.Internal(err)
	}
	if !acc.IsActive {
		s.logger.Info("[auth][forgot] inactive account", "account_id", acc.ID)
		return nil
	}
	if acc.HasPendingReset(s.clock.Now()) {
		s.logger.Info("[auth][forgot] reset code still pending", "account_id", acc.ID)
		return nil
	}

	err = s.issueResetCode(ctx, acc)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStore):
		return apperr.Internal(err)
	default:
		s.logger.Warn("[auth][forgot] reset code not issued", "account_id", acc.ID, "error", err)
		return nil
	}
}

func (s *authService) issueResetCode(ctx context.Context, acc *models.Account) error {
	code, hash, err := s.otp.Generate()
	if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}
	payload := Payload{Name: acc.DisplayName(), Username: acc.Username, Code: code, TTL: s.resetTTL}
	if err := s.notifier.Send(ctx, acc.Email, PurposePasswordReset, payload); err != nil {
		return fmt.Errorf("%w: %w", errNotDelivered, err)
	}

	now := s.clock.Now()
	started, err := s.accounts.StartPasswordReset(ctx, acc.ID, hash, now.Add(s.resetTTL), now)
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return errCodeCollision
		}
		return fmt.Errorf("%w: %w", errStore, err)
	}
	if !started {
		return errCodeOutstanding
	}
	s.logger.Info("[auth][forgot] reset code issued", "account_id", acc.ID)
	return nil
}

// ResetPassword: проверка кода → проверка силы пароля → атомарная смена
// пароля с гашением кода и refresh-токена.
func (s *authService) ResetPassword(ctx context.Context, code, newPassword string) (err error) {
	defer func() { observe("reset_password", err) }()

	invalid := apperr.New(apperr.KindInvalidOrExpired, "reset code is invalid or expired")
	code = trimmed(code)
	if !s.otp.WellFormed(code) {
		return invalid
	}
	hash := s.otp.Hash(code)
	now := s.clock.Now()

	acc, err := s.accounts.FindByPasswordResetOTP(ctx, hash, now)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return invalid
		}
		return apperr.Internal(err)
	}
	if acc.PasswordResetOTPHash == nil || acc.PasswordResetExpiry == nil ||
		!s.otp.Verify(code, *acc.PasswordResetOTPHash, *acc.PasswordResetExpiry, now) {
		return invalid
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	acc, err = s.accounts.ConsumePasswordReset(ctx, hash, passwordHash, s.clock.Now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return invalid
		}
		return apperr.Internal(err)
	}
	s.logger.Info("[auth][reset] password reset, sessions revoked", "account_id", acc.ID)
	s.notifyBestEffort(ctx, acc, PurposePasswordChanged)
	return nil
}
