package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shopflow/internal/logging"
	"shopflow/internal/repositories"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	Recipient string
	Purpose   Purpose
	Payload   Payload
}

// recordingNotifier запоминает доставленные сообщения; fail задаёт ошибку по purpose.
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	attempts int
	fail     map[Purpose]error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{fail: map[Purpose]error{}}
}

func (n *recordingNotifier) Send(_ context.Context, recipient string, purpose Purpose, payload Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if err := n.fail[purpose]; err != nil {
		return err
	}
	n.sent = append(n.sent, sentMessage{Recipient: recipient, Purpose: purpose, Payload: payload})
	return nil
}

func (n *recordingNotifier) FailOn(purpose Purpose, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.fail, purpose)
		return
	}
	n.fail[purpose] = err
}

func (n *recordingNotifier) Count(purpose Purpose) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Purpose == purpose {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) LastCode(t *testing.T, purpose Purpose) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Purpose == purpose {
			return n.sent[i].Payload.Code
		}
	}
	t.Fatalf("no %s message was sent", purpose)
	return ""
}

type testEnv struct {
	auth     *authService
	users    UserService
	repo     repositories.AccountRepository
	notifier *recordingNotifier
	clock    *fakeClock
	tokens   TokenService
	otp      OTPService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	repo := repositories.NewMemoryAccountRepository()
	notifier := newRecordingNotifier()

	hasher, err := NewPasswordHasher(HashBcrypt, bcrypt.MinCost, Argon2Params{})
	require.NoError(t, err)
	tokens, err := NewTokenService(TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "shopflow",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    10 * 24 * time.Hour,
	}, clock)
	require.NoError(t, err)
	otp, err := NewOTPService("otp-secret", 6)
	require.NoError(t, err)

	logger := logging.Discard()
	auth := newAuthService(AuthDeps{
		Accounts:        repo,
		Hasher:          hasher,
		Tokens:          tokens,
		OTP:             otp,
		Notifier:        notifier,
		Logger:          logger,
		Clock:           clock,
		VerificationTTL: time.Hour,
		ResetTTL:        20 * time.Minute,
	})
	return &testEnv{
		auth:     auth,
		users:    NewUserService(repo, hasher, notifier, logger, clock),
		repo:     repo,
		notifier: notifier,
		clock:    clock,
		tokens:   tokens,
		otp:      otp,
	}
}

const alicePassword = "Secr3t!Pass"

func (e *testEnv) registerAlice(t *testing.T) string {
	t.Helper()
	acc, err := e.auth.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@x.com", Password: alicePassword, FirstName: "Alice",
	})
	require.NoError(t, err)
	return acc.ID
}

// verifiedAlice регистрирует и подтверждает email.
func (e *testEnv) verifiedAlice(t *testing.T) string {
	t.Helper()
	id := e.registerAlice(t)
	_, err := e.auth.VerifyEmailOTP(context.Background(), e.notifier.LastCode(t, PurposeEmailVerification))
	require.NoError(t, err)
	return id
}
