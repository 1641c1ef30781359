package services

import (
	"context"
	"errors"
	"log/slog"

	"shopflow/internal/apperr"
	"shopflow/internal/models"
	"shopflow/internal/repositories"
)

type ProfileUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
}

type UserService interface {
	CurrentAccount(ctx context.Context, accountID string) (*models.Account, error)
	UpdateProfile(ctx context.Context, accountID string, in ProfileUpdate) (*models.Account, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	// DeleteAccount — мягкое удаление собственного аккаунта.
	DeleteAccount(ctx context.Context, accountID string) error
	SetActive(ctx context.Context, accountID string, active bool) (*models.Account, error)
}

type userService struct {
	repo     repositories.AccountRepository
	hasher   PasswordHasher
	notifier Notifier
	logger   *slog.Logger
	clock    Clock
}

func NewUserService(repo repositories.AccountRepository, hasher PasswordHasher, notifier Notifier, logger *slog.Logger, clock Clock) UserService {
	if clock == nil {
		clock = SystemClock()
	}
	return &userService{repo: repo, hasher: hasher, notifier: notifier, logger: logger, clock: clock}
}

func (s *userService) CurrentAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, notFoundOrInternal(err, "account not found")
	}
	return acc, nil
}

func (s *userService) UpdateProfile(ctx context.Context, accountID string, in ProfileUpdate) (*models.Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, notFoundOrInternal(err, "account not found")
	}

	username, firstName, lastName := acc.Username, acc.FirstName, acc.LastName
	if in.Username != nil {
		username = NormalizeUsername(*in.Username)
		if err := ValidateUsername(username); err != nil {
			return nil, err
		}
	}
	if in.FirstName != nil {
		if err := ValidateName("first_name", *in.FirstName, true); err != nil {
			return nil, err
		}
		firstName = trimmed(*in.FirstName)
	}
	if in.LastName != nil {
		if err := ValidateName("last_name", *in.LastName, false); err != nil {
			return nil, err
		}
		lastName = trimmed(*in.LastName)
	}

	updated, err := s.repo.UpdateProfile(ctx, accountID, username, firstName, lastName, s.clock.Now())
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, apperr.New(apperr.KindConflict, "username is already in use")
		}
		return nil, notFoundOrInternal(err, "account not found")
	}
	return updated, nil
}

func (s *userService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) (err error) {
	defer func() { observe("change_password", err) }()

	if currentPassword == "" || newPassword == "" {
		return apperr.New(apperr.KindValidation, "current and new password are required")
	}
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return notFoundOrInternal(err, "account not found")
	}
	ok, err := s.hasher.Compare(acc.PasswordHash, currentPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.New(apperr.KindInvalidCredentials, "current password is incorrect")
	}
	if currentPassword == newPassword {
		return apperr.New(apperr.KindValidation, "new password must be different from the current one")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.repo.UpdatePassword(ctx, accountID, hash, s.clock.Now()); err != nil {
		return notFoundOrInternal(err, "account not found")
	}
	s.logger.Info("[user][password] changed", "account_id", accountID)
	s.notify(ctx, acc, PurposePasswordChanged)
	return nil
}

func (s *userService) DeleteAccount(ctx context.Context, accountID string) error {
	acc, err := s.repo.SetActive(ctx, accountID, false, s.clock.Now())
	if err != nil {
		return notFoundOrInternal(err, "account not found")
	}
	s.logger.Info("[user][delete] account deactivated by owner", "account_id", accountID)
	s.notify(ctx, acc, PurposeAccountDeactivated)
	return nil
}

func (s *userService) SetActive(ctx context.Context, accountID string, active bool) (*models.Account, error) {
	acc, err := s.repo.SetActive(ctx, accountID, active, s.clock.Now())
	if err != nil {
		return nil, notFoundOrInternal(err, "account not found")
	}
	s.logger.Info("[admin][status] account status changed", "account_id", accountID, "active", active)
	if !active {
		s.notify(ctx, acc, PurposeAccountDeactivated)
	}
	return acc, nil
}

func (s *userService) notify(ctx context.Context, acc *models.Account, purpose Purpose) {
	err := s.notifier.Send(ctx, acc.Email, purpose, Payload{Name: acc.DisplayName(), Username: acc.Username})
	if err != nil {
		s.logger.Warn("[notify] best-effort send failed", "purpose", purpose, "account_id", acc.ID, "error", err)
	}
}

func notFoundOrInternal(err error, msg string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, msg)
	}
	return apperr.Internal(err)
}
