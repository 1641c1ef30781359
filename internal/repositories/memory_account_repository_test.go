package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopflow/internal/models"
)

func seedAccount(t *testing.T, repo AccountRepository, id, username, email string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, repo.Create(context.Background(), &models.Account{
		ID: id, Username: username, Email: email, FirstName: "Test",
		PasswordHash: "hash", Role: "USER", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestMemory_CreateRejectsDuplicates(t *testing.T) {
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")

	err := repo.Create(context.Background(), &models.Account{ID: "a2", Username: "alice", Email: "other@x.com"})
	assert.ErrorIs(t, err, ErrConflict)

	err = repo.Create(context.Background(), &models.Account{ID: "a3", Username: "other", Email: "alice@x.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")

	a, err := repo.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	a.Username = "mallory"

	again, err := repo.GetByIdentifier(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
}

func TestMemory_ConcurrentRotationHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	require.NoError(t, repo.RecordLogin(ctx, "a1", "r1", time.Now()))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.RotateRefreshToken(ctx, "a1", "r1", "next", time.Now())
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemory_EmailVerificationSingleOutstanding(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	now := time.Now()

	ok, err := repo.StartEmailVerification(ctx, "a1", "h1", now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.StartEmailVerification(ctx, "a1", "h2", now.Add(time.Hour), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a live code blocks a second one")

	// после истечения можно выдать новый
	later := now.Add(2 * time.Hour)
	ok, err = repo.StartEmailVerification(ctx, "a1", "h2", later.Add(time.Hour), later)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.ConsumeEmailVerification(ctx, "h1", later)
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := repo.ConsumeEmailVerification(ctx, "h2", later)
	require.NoError(t, err)
	assert.True(t, a.IsVerified)
	assert.Nil(t, a.EmailVerificationOTPHash)
	assert.Nil(t, a.EmailVerificationExpiry)

	_, err = repo.ConsumeEmailVerification(ctx, "h2", later)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_OTPHashCollisionAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	seedAccount(t, repo, "a2", "bob", "bob@x.com")
	now := time.Now()

	_, err := repo.StartPasswordReset(ctx, "a1", "same", now.Add(time.Hour), now)
	require.NoError(t, err)
	_, err = repo.StartPasswordReset(ctx, "a2", "same", now.Add(time.Hour), now)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemory_ExpiredOTPHashIsReleased(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	seedAccount(t, repo, "a2", "bob", "bob@x.com")
	now := time.Now()

	ok, err := repo.StartEmailVerification(ctx, "a1", "same", now.Add(time.Hour), now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.StartPasswordReset(ctx, "a1", "same-reset", now.Add(20*time.Minute), now)
	require.NoError(t, err)
	require.True(t, ok)

	later := now.Add(48 * time.Hour)
	ok, err = repo.StartEmailVerification(ctx, "a2", "same", later.Add(time.Hour), later)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.StartPasswordReset(ctx, "a2", "same-reset", later.Add(20*time.Minute), later)
	require.NoError(t, err)
	assert.True(t, ok)

	alice, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, alice.EmailVerificationOTPHash)
	assert.Nil(t, alice.EmailVerificationExpiry)
	assert.Nil(t, alice.PasswordResetOTPHash)

	bob, err := repo.ConsumeEmailVerification(ctx, "same", later)
	require.NoError(t, err)
	assert.Equal(t, "a2", bob.ID)
}

func TestMemory_ConsumePasswordResetClearsRefresh(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	now := time.Now()
	require.NoError(t, repo.RecordLogin(ctx, "a1", "r1", now))

	ok, err := repo.StartPasswordReset(ctx, "a1", "h", now.Add(20*time.Minute), now)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.ConsumePasswordReset(ctx, "h", "new", now.Add(21*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound, "expired code")

	a, err := repo.ConsumePasswordReset(ctx, "h", "new", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "new", a.PasswordHash)
	assert.Nil(t, a.RefreshTokenHash)
	assert.Nil(t, a.PasswordResetOTPHash)
}

func TestMemory_SetActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	seedAccount(t, repo, "a1", "alice", "alice@x.com")
	now := time.Now()
	require.NoError(t, repo.RecordLogin(ctx, "a1", "r1", now))

	a, err := repo.SetActive(ctx, "a1", false, now)
	require.NoError(t, err)
	assert.False(t, a.IsActive)
	assert.Nil(t, a.RefreshTokenHash)
	require.NotNil(t, a.DeletedAt)

	a, err = repo.SetActive(ctx, "a1", true, now)
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.Nil(t, a.DeletedAt)

	_, err = repo.SetActive(ctx, "nope", true, now)
	assert.ErrorIs(t, err, ErrNotFound)
}
