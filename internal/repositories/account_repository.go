package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"shopflow/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// AccountRepository — хранилище аккаунтов. Все изменения refresh-хэша и OTP
// выполняются одной условной операцией, без read-then-write.
type AccountRepository interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// GetByIdentifier ищет по username или email.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	UpdateProfile(ctx context.Context, id, username, firstName, lastName string, at time.Time) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) (*models.Account, error)

	// refresh helpers
	RecordLogin(ctx context.Context, id, refreshHash string, at time.Time) error
	RotateRefreshToken(ctx context.Context, id, expectedHash, nextHash string, at time.Time) (bool, error)
	ClearRefreshToken(ctx context.Context, id string, at time.Time) error

	// email verification
	StartEmailVerification(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error)
	ConsumeEmailVerification(ctx context.Context, otpHash string, now time.Time) (*models.Account, error)

	// password reset
	StartPasswordReset(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error)
	FindByPasswordResetOTP(ctx context.Context, otpHash string, now time.Time) (*models.Account, error)
	ConsumePasswordReset(ctx context.Context, otpHash, passwordHash string, now time.Time) (*models.Account, error)
}

const accountColumns = `
	id, username, email, first_name, last_name, password_hash, role,
	is_active, is_verified, refresh_token_hash,
	email_verification_otp_hash, email_verification_expiry,
	password_reset_otp_hash, password_reset_expiry,
	last_login_at, created_at, updated_at, deleted_at`

type accountRepository struct {
	DB *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	var (
		passwordHash sql.NullString
		refresh      sql.NullString
		evHash       sql.NullString
		evExpiry     sql.NullTime
		prHash       sql.NullString
		prExpiry     sql.NullTime
		lastLogin    sql.NullTime
		deletedAt    sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName, &passwordHash, &a.Role,
		&a.IsActive, &a.IsVerified, &refresh,
		&evHash, &evExpiry,
		&prHash, &prExpiry,
		&lastLogin, &a.CreatedAt, &a.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.PasswordHash = passwordHash.String
	a.RefreshTokenHash = nullString(refresh)
	a.EmailVerificationOTPHash = nullString(evHash)
	a.EmailVerificationExpiry = nullTime(evExpiry)
	a.PasswordResetOTPHash = nullString(prHash)
	a.PasswordResetExpiry = nullTime(prExpiry)
	a.LastLoginAt = nullTime(lastLogin)
	a.DeletedAt = nullTime(deletedAt)
	return a, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *accountRepository) Create(ctx context.Context, a *models.Account) error {
	const q = `
		INSERT INTO accounts (
			id, username, email, first_name, last_name, password_hash, role,
			is_active, is_verified, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := r.DB.ExecContext(ctx, q,
		a.ID, a.Username, a.Email, a.FirstName, a.LastName, a.PasswordHash, a.Role,
		a.IsActive, a.IsVerified, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.DB.QueryRowContext(ctx, q, id))
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.DB.QueryRowContext(ctx, q, email))
}

func (r *accountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1 OR email = $1 LIMIT 1`
	return scanAccount(r.DB.QueryRowContext(ctx, q, identifier))
}

func (r *accountRepository) UpdateProfile(ctx context.Context, id, username, firstName, lastName string, at time.Time) (*models.Account, error) {
	q := `
		UPDATE accounts
		SET username = $2, first_name = $3, last_name = $4, updated_at = $5
		WHERE id = $1
		RETURNING ` + accountColumns
	a, err := scanAccount(r.DB.QueryRowContext(ctx, q, id, username, firstName, lastName, at))
	if err != nil && isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return a, err
}

func (r *accountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	const q = `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, q, id, passwordHash, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// SetActive(false) — мягкое удаление: гасим refresh и ставим deleted_at.
func (r *accountRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) (*models.Account, error) {
	q := `
		UPDATE accounts
		SET is_active = $2,
			refresh_token_hash = CASE WHEN $2 THEN refresh_token_hash ELSE NULL END,
			deleted_at = CASE WHEN $2 THEN NULL ELSE $3::timestamptz END,
			updated_at = $3
		WHERE id = $1
		RETURNING ` + accountColumns
	return scanAccount(r.DB.QueryRowContext(ctx, q, id, active, at))
}

func (r *accountRepository) RecordLogin(ctx context.Context, id, refreshHash string, at time.Time) error {
	const q = `
		UPDATE accounts
		SET refresh_token_hash = $2, last_login_at = $3, updated_at = $3
		WHERE id = $1
	`
	res, err := r.DB.ExecContext(ctx, q, id, refreshHash, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// RotateRefreshToken заменяет хэш, только если в строке всё ещё expectedHash.
// false означает, что токен уже был ротирован или отозван.
func (r *accountRepository) RotateRefreshToken(ctx context.Context, id, expectedHash, nextHash string, at time.Time) (bool, error) {
	const q = `
		UPDATE accounts
		SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2 AND is_active
	`
	res, err := r.DB.ExecContext(ctx, q, id, expectedHash, nextHash, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func (r *accountRepository) ClearRefreshToken(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE accounts
		SET refresh_token_hash = NULL, updated_at = $2
		WHERE id = $1 AND refresh_token_hash IS NOT NULL
	`
	if _, err := r.DB.ExecContext(ctx, q, id, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *accountRepository) StartEmailVerification(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error) {
	// истёкший код с тем же хэшем у другого аккаунта держит уникальный индекс; освобождаем
	const release = `
		UPDATE accounts
		SET email_verification_otp_hash = NULL, email_verification_expiry = NULL
		WHERE email_verification_otp_hash = $1 AND email_verification_expiry <= $2
	`
	const q = `
		UPDATE accounts
		SET email_verification_otp_hash = $2, email_verification_expiry = $3, updated_at = $4
		WHERE id = $1
			AND NOT is_verified
			AND (email_verification_otp_hash IS NULL OR email_verification_expiry <= $4)
	`
	return r.startOTP(ctx, release, q, id, otpHash, expiresAt, now)
}

func (r *accountRepository) ConsumeEmailVerification(ctx context.Context, otpHash string, now time.Time) (*models.Account, error) {
	q := `
		UPDATE accounts
		SET is_verified = TRUE,
			email_verification_otp_hash = NULL,
			email_verification_expiry = NULL,
			updated_at = $2
		WHERE email_verification_otp_hash = $1 AND email_verification_expiry > $2
		RETURNING ` + accountColumns
	return scanAccount(r.DB.QueryRowContext(ctx, q, otpHash, now))
}

func (r *accountRepository) StartPasswordReset(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (bool, error) {
	const release = `
		UPDATE accounts
		SET password_reset_otp_hash = NULL, password_reset_expiry = NULL
		WHERE password_reset_otp_hash = $1 AND password_reset_expiry <= $2
	`
	const q = `
		UPDATE accounts
		SET password_reset_otp_hash = $2, password_reset_expiry = $3, updated_at = $4
		WHERE id = $1
			AND (password_reset_otp_hash IS NULL OR password_reset_expiry <= $4)
	`
	return r.startOTP(ctx, release, q, id, otpHash, expiresAt, now)
}

func (r *accountRepository) FindByPasswordResetOTP(ctx context.Context, otpHash string, now time.Time) (*models.Account, error) {
	q := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE password_reset_otp_hash = $1 AND password_reset_expiry > $2`
	return scanAccount(r.DB.QueryRowContext(ctx, q, otpHash, now))
}

// ConsumePasswordReset меняет пароль, гасит код и живой refresh одной командой.
func (r *accountRepository) ConsumePasswordReset(ctx context.Context, otpHash, passwordHash string, now time.Time) (*models.Account, error) {
	q := `
		UPDATE accounts
		SET password_hash = $2,
			password_reset_otp_hash = NULL,
			password_reset_expiry = NULL,
			refresh_token_hash = NULL,
			updated_at = $3
		WHERE password_reset_otp_hash = $1 AND password_reset_expiry > $3
		RETURNING ` + accountColumns
	return scanAccount(r.DB.QueryRowContext(ctx, q, otpHash, passwordHash, now))
}

// startOTP: освобождение истёкших совпадений и установка кода в одной транзакции.
func (r *accountRepository) startOTP(ctx context.Context, release, q, id, otpHash string, expiresAt, now time.Time) (started bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, release, otpHash, now); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	res, err := tx.ExecContext(ctx, q, id, otpHash, expiresAt, now)
	if err != nil {
		// коллизия с живым кодом другого аккаунта
		if isUniqueViolation(err) {
			return false, ErrConflict
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	if started, err = affected(res); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return started, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func expectOneRow(res sql.Result) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
