package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shopflow/internal/apperr"
	"shopflow/internal/authz"
	"shopflow/internal/metrics"
	"shopflow/internal/models"
	"shopflow/internal/repositories"
	"shopflow/internal/utils"
)

const msgInvalidCredentials = "invalid username/email or password"

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Session — пара токенов, выданная при login/refresh.
type Session struct {
	Account          *models.Account
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.Account, error)
	Login(ctx context.Context, identifier, password string) (*Session, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, accountID string) error
	Authenticate(ctx context.Context, accessToken string) (*models.Account, error)

	VerifyEmailOTP(ctx context.Context, code string) (*models.Account, error)
	ResendVerification(ctx context.Context, email string) error

	InitiatePasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, newPassword string) error
}

type AuthDeps struct {
	Accounts repositories.AccountRepository
	Hasher   PasswordHasher
	Tokens   TokenService
	OTP      OTPService
	Notifier Notifier
	Logger   *slog.Logger
	Clock    Clock

	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

type authService struct {
	accounts repositories.AccountRepository
	hasher   PasswordHasher
	tokens   TokenService
	otp      OTPService
	notifier Notifier
	logger   *slog.Logger
	clock    Clock

	verificationTTL time.Duration
	resetTTL        time.Duration
}

func NewAuthService(d AuthDeps) AuthService {
	return newAuthService(d)
}

func newAuthService(d AuthDeps) *authService {
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	if d.VerificationTTL <= 0 {
		d.VerificationTTL = time.Hour
	}
	if d.ResetTTL <= 0 {
		d.ResetTTL = 20 * time.Minute
	}
	return &authService{
		accounts:        d.Accounts,
		hasher:          d.Hasher,
		tokens:          d.Tokens,
		otp:             d.OTP,
		notifier:        d.Notifier,
		logger:          d.Logger,
		clock:           d.Clock,
		verificationTTL: d.VerificationTTL,
		resetTTL:        d.ResetTTL,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (acc *models.Account, err error) {
	defer func() { observe("register", err) }()

	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateName("first_name", in.FirstName, true); err != nil {
		return nil, err
	}
	if err := ValidateName("last_name", in.LastName, false); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.clock.Now()
	acc = &models.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		FirstName:    trimmed(in.FirstName),
		LastName:     trimmed(in.LastName),
		PasswordHash: hash,
		Role:         authz.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, apperr.New(apperr.KindConflict, "username or email is already in use")
		}
		return nil, apperr.Internal(err)
	}
	s.logger.Info("[auth][register] account created", "account_id", acc.ID)

	// регистрация не зависит от доставки письма: при ошибке пользователь запросит resend
	if err := s.issueVerificationCode(ctx, acc); err != nil {
		s.logger.Warn("[auth][register] verification code not delivered", "account_id", acc.ID, "error", err)
	}
	return acc, nil
}

func (s *authService) Login(ctx context.Context, identifier, password string) (sess *Session, err error) {
	defer func() { observe("login", err) }()

	id := NormalizeIdentifier(identifier)
	if id == "" || password == "" {
		return nil, apperr.New(apperr.KindInvalidCredentials, msgInvalidCredentials)
	}

	acc, err := s.accounts.GetByIdentifier(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.hasher.CompareDummy(password)
			s.logger.Info("[auth][login] unknown identifier")
			return nil, apperr.New(apperr.KindInvalidCredentials, msgInvalidCredentials)
		}
		return nil, apperr.Internal(err)
	}

	ok, err := s.hasher.Compare(acc.PasswordHash, password)
	if err != nil {
		s.logger.Error("[auth][login] password compare failed", "account_id", acc.ID, "error", err)
		return nil, apperr.Internal(err)
	}
	if !ok {
		s.logger.Info("[auth][login] password mismatch", "account_id", acc.ID)
		return nil, apperr.New(apperr.KindInvalidCredentials, msgInvalidCredentials)
	}
	if !acc.IsActive {
		return nil, apperr.New(apperr.KindForbidden, "account is deactivated")
	}
	if !acc.IsVerified {
		return nil, s.refuseUnverified(ctx, acc)
	}

	sess, err = s.issueSession(acc)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.accounts.RecordLogin(ctx, acc.ID, utils.HashToken(sess.RefreshToken), now); err != nil {
		return nil, apperr.Internal(err)
	}
	acc.LastLoginAt = &now
	s.logger.Info("[auth][login] success", "account_id", acc.ID)
	return sess, nil
}

// refuseUnverified: новый код шлём, только если прежний истёк или его нет.
func (s *authService) refuseUnverified(ctx context.Context, acc *models.Account) error {
	if acc.HasPendingVerification(s.clock.Now()) {
		s.logger.Info("[auth][login] unverified, code still pending", "account_id", acc.ID)
		return apperr.New(apperr.KindForbidden, "email is not verified; check your inbox for the verification code")
	}
	if err := s.issueVerificationCode(ctx, acc); err != nil {
		if errors.Is(err, errStore) {
			return apperr.Internal(err)
		}
		s.logger.Warn("[auth][login] verification code not delivered", "account_id", acc.ID, "error", err)
	}
	return apperr.New(apperr.KindForbidden, "email is not verified; a verification code has been sent to your inbox")
}

func (s *authService) RefreshAccessToken(ctx context.Context, refreshToken string) (sess *Session, err error) {
	defer func() { observe("refresh", err) }()

	unauthorized := apperr.New(apperr.KindUnauthorized, "refresh token is invalid or expired")
	if refreshToken == "" {
		return nil, unauthorized
	}
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return nil, unauthorized
	}

	acc, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, unauthorized
		}
		return nil, apperr.Internal(err)
	}
	presented := utils.HashToken(refreshToken)
	// токен, который уже ротировали, подписан верно, но хэш не совпадёт
	if !acc.IsActive || acc.RefreshTokenHash == nil || !utils.EqualHashes(*acc.RefreshTokenHash, presented) {
		s.logger.Warn("[auth][refresh] stale or revoked refresh token", "account_id", acc.ID)
		return nil, unauthorized
	}

	sess, err = s.issueSession(acc)
	if err != nil {
		return nil, err
	}
	rotated, err := s.accounts.RotateRefreshToken(ctx, acc.ID, presented, utils.HashToken(sess.RefreshToken), s.clock.Now())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !rotated {
		s.logger.Warn("[auth][refresh] lost rotation race", "account_id", acc.ID)
		return nil, unauthorized
	}
	return sess, nil
}

func (s *authService) Logout(ctx context.Context, accountID string) (err error) {
	defer func() { observe("logout", err) }()
	if err := s.accounts.ClearRefreshToken(ctx, accountID, s.clock.Now()); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *authService) Authenticate(ctx context.Context, accessToken string) (*models.Account, error) {
	if accessToken == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	claims, err := s.tokens.Verify(accessToken, TokenAccess)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, apperr.New(apperr.KindUnauthorized, "access token expired")
		}
		return nil, apperr.New(apperr.KindUnauthorized, "invalid access token")
	}
	acc, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "account no longer exists")
		}
		return nil, apperr.Internal(err)
	}
	if !acc.IsActive {
		return nil, apperr.New(apperr.KindForbidden, "account is deactivated")
	}
	return acc, nil
}

func (s *authService) issueSession(acc *models.Account) (*Session, error) {
	access, err := s.tokens.IssueAccessToken(acc.ID, acc.Email, acc.Username, acc.Role)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	refresh, err := s.tokens.IssueRefreshToken(acc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{
		Account:          acc,
		AccessToken:      access.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// notifyBestEffort — письмо после уже сохранённого изменения; ошибка ничего не откатывает.
func (s *authService) notifyBestEffort(ctx context.Context, acc *models.Account, purpose Purpose) {
	err := s.notifier.Send(ctx, acc.Email, purpose, Payload{Name: acc.DisplayName(), Username: acc.Username})
	if err != nil {
		s.logger.Warn("[notify] best-effort send failed", "purpose", purpose, "account_id", acc.ID, "error", err)
	}
}

func observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).Code()
	}
	metrics.AuthEvents.WithLabelValues(operation, outcome).Inc()
}
