package services

import (
	"context"
	"errors"
	"fmt"

	"shopflow/internal/apperr"
	"shopflow/internal/models"
	"shopflow/internal/repositories"
)

var (
	errStore           = errors.New("store failure")
	errNotDelivered    = errors.New("notification not delivered")
	errCodeOutstanding = errors.New("a code is already outstanding")
	errCodeCollision   = errors.New("generated code collides with another account")
)

func (s *authService) VerifyEmailOTP(ctx context.Context, code string) (acc *models.Account, err error) {
	defer func() { observe("verify_email", err) }()

	code = trimmed(code)
	if !s.otp.WellFormed(code) {
		return nil, apperr.New(apperr.KindInvalidOrExpired, "verification code is invalid or expired")
	}
	acc, err = s.accounts.ConsumeEmailVerification(ctx, s.otp.Hash(code), s.clock.Now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.New(apperr.KindInvalidOrExpired, "verification code is invalid or expired")
		}
		return nil, apperr.Internal(err)
	}
	s.logger.Info("[auth][verify] email verified", "account_id", acc.ID)
	s.notifyBestEffort(ctx, acc, PurposeWelcome)
	return acc, nil
}

func (s *authService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { observe("resend_verification", err) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "no account is registered with this email")
		}
		return apperr.Internal(err)
	}
	if acc.IsVerified {
		return apperr.New(apperr.KindAlreadyVerified, "email is already verified")
	}
	if !acc.IsActive {
		return apperr.New(apperr.KindForbidden, "account is deactivated")
	}
	if acc.HasPendingVerification(s.clock.Now()) {
		return apperr.New(apperr.KindTooManyRequests, "a verification code was already sent; wait until it expires")
	}

	switch err := s.issueVerificationCode(ctx, acc); {
	case err == nil:
		return nil
	case errors.Is(err, errCodeOutstanding):
		return apperr.New(apperr.KindTooManyRequests, "a verification code was already sent; wait until it expires")
	default:
		s.logger.Error("[auth][resend] verification code not issued", "account_id", acc.ID, "error", err)
		return apperr.Internal(err)
	}
}

// issueVerificationCode: сначала отправка, потом сохранение. Неотправленный код
// не попадает в базу и не блокирует повторный запрос.
func (s *authService) issueVerificationCode(ctx context.Context, acc *models.Account) error {
	code, hash, err := s.otp.Generate()
	if err != nil {
		return fmt.Errorf("%w: %w", errStore, err)
	}
	payload := Payload{Name: acc.DisplayName(), Username: acc.Username, Code: code, TTL: s.verificationTTL}
	if err := s.notifier.Send(ctx, acc.Email, PurposeEmailVerification, payload); err != nil {
		return fmt.Errorf("%w: %w", errNotDelivered, err)
	}

	now := s.clock.Now()
	started, err := s.accounts.StartEmailVerification(ctx, acc.ID, hash, now.Add(s.verificationTTL), now)
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return errCodeCollision
		}
		return fmt.Errorf("%w: %w", errStore, err)
	}
	if !started {
		return errCodeOutstanding
	}
	s.logger.Info("[auth][verify] verification code issued", "account_id", acc.ID)
	return nil
}
