package repositories

import (
	"context"
	"sync"
	"time"

	"shopflow/internal/models"
)

// memoryAccountRepository — in-process хранилище для dev/test.
// Один мьютекс сериализует все операции, что даёт ту же атомарность, что и условные UPDATE.
type memoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMemoryAccountRepository() AccountRepository {
	return &memoryAccountRepository{accounts: make(map[string]*models.Account)}
}

func (r *memoryAccountRepository) Create(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; ok {
		return ErrConflict
	}
	for _, existing := range r.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return ErrConflict
		}
	}
	r.accounts[a.ID] = a.Clone()
	return nil
}

func (r *memoryAccountRepository) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memoryAccountRepository) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryAccountRepository) GetByIdentifier(_ context.Context, identifier string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == identifier || a.Email == identifier {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryAccountRepository) UpdateProfile(_ context.Context, id, username, firstName, lastName string, at time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	for otherID, other := range r.accounts {
		if otherID != id && other.Username == username {
			return nil, ErrConflict
		}
	}
	a.Username = username
	a.FirstName = firstName
	a.LastName = lastName
	a.UpdatedAt = at
	return a.Clone(), nil
}

func (r *memoryAccountRepository) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = at
	return nil
}

func (r *memoryAccountRepository) SetActive(_ context.Context, id string, active bool, at time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.IsActive = active
	if active {
		a.DeletedAt = nil
	} else {
		a.RefreshTokenHash = nil
		deleted := at
		a.DeletedAt = &deleted
	}
	a.UpdatedAt = at
	return a.Clone(), nil
}

func (r *memoryAccountRepository) RecordLogin(_ context.Context, id, refreshHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	h := refreshHash
	last := at
	a.RefreshTokenHash = &h
	a.LastLoginAt = &last
	a.UpdatedAt = at
	return nil
}

func (r *memoryAccountRepository) RotateRefreshToken(_ context.Context, id, expectedHash, nextHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || !a.IsActive || a.RefreshTokenHash == nil || *a.RefreshTokenHash != expectedHash {
		return false, nil
	}
	h := nextHash
	a.RefreshTokenHash = &h
	a.UpdatedAt = at
	return true, nil
}

func (r *memoryAccountRepository) ClearRefreshToken(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok && a.RefreshTokenHash != nil {
		a.RefreshTokenHash = nil
		a.UpdatedAt = at
	}
	return nil
}

func (r *memoryAccountRepository) StartEmailVerification(_ context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.IsVerified || a.HasPendingVerification(now) {
		return false, nil
	}
	if r.verificationHashTaken(id, otpHash, now) {
		return false, ErrConflict
	}
	h, exp := otpHash, expiresAt
	a.EmailVerificationOTPHash = &h
	a.EmailVerificationExpiry = &exp
	a.UpdatedAt = now
	return true, nil
}

func (r *memoryAccountRepository) ConsumeEmailVerification(_ context.Context, otpHash string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.EmailVerificationOTPHash == nil || *a.EmailVerificationOTPHash != otpHash {
			continue
		}
		if !a.HasPendingVerification(now) {
			return nil, ErrNotFound
		}
		a.IsVerified = true
		a.EmailVerificationOTPHash = nil
		a.EmailVerificationExpiry = nil
		a.UpdatedAt = now
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (r *memoryAccountRepository) StartPasswordReset(_ context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.HasPendingReset(now) {
		return false, nil
	}
	if r.resetHashTaken(id, otpHash, now) {
		return false, ErrConflict
	}
	h, exp := otpHash, expiresAt
	a.PasswordResetOTPHash = &h
	a.PasswordResetExpiry = &exp
	a.UpdatedAt = now
	return true, nil
}

func (r *memoryAccountRepository) FindByPasswordResetOTP(_ context.Context, otpHash string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findReset(otpHash, now)
	if a == nil {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memoryAccountRepository) ConsumePasswordReset(_ context.Context, otpHash, passwordHash string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findReset(otpHash, now)
	if a == nil {
		return nil, ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.PasswordResetOTPHash = nil
	a.PasswordResetExpiry = nil
	a.RefreshTokenHash = nil
	a.UpdatedAt = now
	return a.Clone(), nil
}

func (r *memoryAccountRepository) findReset(otpHash string, now time.Time) *models.Account {
	for _, a := range r.accounts {
		if a.PasswordResetOTPHash != nil && *a.PasswordResetOTPHash == otpHash && a.HasPendingReset(now) {
			return a
		}
	}
	return nil
}

// verificationHashTaken: истёкшие совпадения у других аккаунтов сбрасываются, живые считаются занятыми.
func (r *memoryAccountRepository) verificationHashTaken(id, otpHash string, now time.Time) bool {
	for otherID, a := range r.accounts {
		if otherID == id || a.EmailVerificationOTPHash == nil || *a.EmailVerificationOTPHash != otpHash {
			continue
		}
		if a.HasPendingVerification(now) {
			return true
		}
		a.EmailVerificationOTPHash = nil
		a.EmailVerificationExpiry = nil
	}
	return false
}

func (r *memoryAccountRepository) resetHashTaken(id, otpHash string, now time.Time) bool {
	for otherID, a := range r.accounts {
		if otherID == id || a.PasswordResetOTPHash == nil || *a.PasswordResetOTPHash != otpHash {
			continue
		}
		if a.HasPendingReset(now) {
			return true
		}
		a.PasswordResetOTPHash = nil
		a.PasswordResetExpiry = nil
	}
	return false
}
