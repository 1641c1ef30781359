package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopflow/internal/apperr"
)

func TestRegisterVerifyLoginScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.registerAlice(t)
	acc, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, acc.IsVerified)
	assert.Nil(t, acc.RefreshTokenHash)
	assert.Equal(t, 1, env.notifier.Count(PurposeEmailVerification))

	_, err = env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = env.auth.Login(ctx, "alice@x.com", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, 1, env.notifier.Count(PurposeEmailVerification), "no second code while the first is live")

	code := env.notifier.LastCode(t, PurposeEmailVerification)
	verified, err := env.auth.VerifyEmailOTP(ctx, code)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, 1, env.notifier.Count(PurposeWelcome))

	sess, err := env.auth.Login(ctx, "ALICE", alicePassword)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, env.clock.Now().Add(15*time.Minute), sess.AccessExpiresAt)

	acc, err = env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, acc.LastLoginAt)
	require.NotNil(t, acc.RefreshTokenHash)
	assert.NotEqual(t, sess.RefreshToken, *acc.RefreshTokenHash, "only the digest is stored")

	_, err = env.auth.VerifyEmailOTP(ctx, code)
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err), "codes are single-use")
}

func TestLoginUnverifiedSendsCodeOnlyWhenNoneIsLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// письмо при регистрации не ушло, значит и кода в базе нет
	env.notifier.FailOn(PurposeEmailVerification, errors.New("smtp down"))
	id := env.registerAlice(t)
	acc, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, acc.HasPendingVerification(env.clock.Now()))

	env.notifier.FailOn(PurposeEmailVerification, nil)
	_, err = env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, 1, env.notifier.Count(PurposeEmailVerification))

	_, err = env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, 1, env.notifier.Count(PurposeEmailVerification))

	env.clock.Advance(time.Hour + time.Second)
	_, err = env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, 2, env.notifier.Count(PurposeEmailVerification))
}

func TestLoginUnverifiedWrongPasswordDoesNotSend(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.FailOn(PurposeEmailVerification, errors.New("smtp down"))
	env.registerAlice(t)
	env.notifier.FailOn(PurposeEmailVerification, nil)

	_, err := env.auth.Login(context.Background(), "alice", "Wrong1!pass")
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))
	assert.Equal(t, 0, env.notifier.Count(PurposeEmailVerification))
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	_, errUnknown := env.auth.Login(ctx, "nobody", alicePassword)
	_, errWrong := env.auth.Login(ctx, "alice", "Wrong1!pass")
	_, errEmpty := env.auth.Login(ctx, "", "")

	for _, err := range []error{errUnknown, errWrong, errEmpty} {
		assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))
		assert.Equal(t, msgInvalidCredentials, apperr.PublicMessage(err))
	}
}

func TestLoginInactiveAccountForbidden(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedAlice(t)
	ctx := context.Background()
	require.NoError(t, env.users.DeleteAccount(ctx, id))

	_, err := env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = env.auth.Login(ctx, "alice", "Wrong1!pass")
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err), "password is checked first")
}

func TestRegisterConflictIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.registerAlice(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, RegisterInput{
		Username: "ALICE", Email: "other@x.com", Password: alicePassword, FirstName: "A",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = env.auth.Register(ctx, RegisterInput{
		Username: "alice2", Email: "Alice@X.com", Password: alicePassword, FirstName: "A",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, RegisterInput{
		Username: "alice", Email: "alice@x.com", Password: "alllowercase1!", FirstName: "Alice",
	})
	assert.Equal(t, apperr.KindWeakPassword, apperr.KindOf(err))

	_, err = env.auth.Register(ctx, RegisterInput{
		Username: "al", Email: "alice@x.com", Password: alicePassword, FirstName: "Alice",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.auth.Register(ctx, RegisterInput{
		Username: "alice", Email: "not-an-email", Password: alicePassword, FirstName: "Alice",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.auth.Register(ctx, RegisterInput{
		Username: "alice", Email: "alice@x.com", Password: alicePassword,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.repo.GetByIdentifier(ctx, "alice")
	assert.Error(t, err, "nothing persisted on validation failure")
	assert.Equal(t, 0, env.notifier.attempts)
}

func TestRefreshRotationAndReplay(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	s1, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)

	s2, err := env.auth.RefreshAccessToken(ctx, s1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s1.RefreshToken, s2.RefreshToken)
	assert.NotEmpty(t, s2.AccessToken)

	_, err = env.auth.RefreshAccessToken(ctx, s1.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "rotated-away token is a replay")

	s3, err := env.auth.RefreshAccessToken(ctx, s2.RefreshToken)
	require.NoError(t, err)

	// новый login вытесняет текущий refresh
	_, err = env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)
	_, err = env.auth.RefreshAccessToken(ctx, s3.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	s, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", s.AccessToken} {
		_, err := env.auth.RefreshAccessToken(ctx, tok)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	}

	env.clock.Advance(10*24*time.Hour + time.Second)
	_, err = env.auth.RefreshAccessToken(ctx, s.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	s, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.auth.RefreshAccessToken(ctx, s.RefreshToken)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			if apperr.KindOf(err) == apperr.KindUnauthorized {
				atomic.AddInt32(&losses, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), losses)
}

func TestLogoutIsIdempotentAndRevokes(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedAlice(t)
	ctx := context.Background()

	s, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, id))
	require.NoError(t, env.auth.Logout(ctx, id))

	_, err = env.auth.RefreshAccessToken(ctx, s.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedAlice(t)
	ctx := context.Background()

	s, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)

	acc, err := env.auth.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, acc.ID)

	_, err = env.auth.Authenticate(ctx, s.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = env.auth.Authenticate(ctx, "")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = env.users.SetActive(ctx, id, false)
	require.NoError(t, err)
	_, err = env.auth.Authenticate(ctx, s.AccessToken)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	env.clock.Advance(16 * time.Minute)
	_, err = env.auth.Authenticate(ctx, s.AccessToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestVerifyEmailOTP_InvalidAndExpired(t *testing.T) {
	env := newTestEnv(t)
	env.registerAlice(t)
	ctx := context.Background()
	code := env.notifier.LastCode(t, PurposeEmailVerification)

	_, err := env.auth.VerifyEmailOTP(ctx, "abc")
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}
	_, err = env.auth.VerifyEmailOTP(ctx, wrong)
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))

	env.clock.Advance(time.Hour)
	_, err = env.auth.VerifyEmailOTP(ctx, code)
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
}

func TestVerifyEmailOTP_WelcomeFailureKeepsVerification(t *testing.T) {
	env := newTestEnv(t)
	id := env.registerAlice(t)
	env.notifier.FailOn(PurposeWelcome, errors.New("smtp down"))

	_, err := env.auth.VerifyEmailOTP(context.Background(), env.notifier.LastCode(t, PurposeEmailVerification))
	require.NoError(t, err)

	acc, err := env.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.auth.ResendVerification(ctx, "ghost@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	id := env.registerAlice(t)
	err = env.auth.ResendVerification(ctx, "alice@x.com")
	assert.Equal(t, apperr.KindTooManyRequests, apperr.KindOf(err), "code from registration is still live")
	assert.Equal(t, 1, env.notifier.Count(PurposeEmailVerification))

	env.clock.Advance(time.Hour)
	env.notifier.FailOn(PurposeEmailVerification, errors.New("smtp down"))
	err = env.auth.ResendVerification(ctx, "ALICE@x.com")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	acc, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, acc.HasPendingVerification(env.clock.Now()), "undelivered code is not persisted")

	env.notifier.FailOn(PurposeEmailVerification, nil)
	require.NoError(t, env.auth.ResendVerification(ctx, "alice@x.com"))
	assert.Equal(t, 2, env.notifier.Count(PurposeEmailVerification))

	_, err = env.auth.VerifyEmailOTP(ctx, env.notifier.LastCode(t, PurposeEmailVerification))
	require.NoError(t, err)
	err = env.auth.ResendVerification(ctx, "alice@x.com")
	assert.Equal(t, apperr.KindAlreadyVerified, apperr.KindOf(err))
}

func TestInitiatePasswordResetIsUniform(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	errMissing := env.auth.InitiatePasswordReset(ctx, "ghost@x.com")
	errExisting := env.auth.InitiatePasswordReset(ctx, "alice@x.com")
	assert.NoError(t, errMissing)
	assert.NoError(t, errExisting)
	assert.Equal(t, 1, env.notifier.Count(PurposePasswordReset))

	require.NoError(t, env.auth.InitiatePasswordReset(ctx, "alice@x.com"))
	assert.Equal(t, 1, env.notifier.Count(PurposePasswordReset), "live code is not replaced")
}

func TestInitiatePasswordResetSwallowsNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedAlice(t)
	ctx := context.Background()

	env.notifier.FailOn(PurposePasswordReset, errors.New("smtp down"))
	require.NoError(t, env.auth.InitiatePasswordReset(ctx, "alice@x.com"))
	acc, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, acc.PasswordResetOTPHash)

	env.notifier.FailOn(PurposePasswordReset, nil)
	require.NoError(t, env.auth.InitiatePasswordReset(ctx, "alice@x.com"))
	assert.Equal(t, 1, env.notifier.Count(PurposePasswordReset))
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	s, err := env.auth.Login(ctx, "alice", alicePassword)
	require.NoError(t, err)
	require.NoError(t, env.auth.InitiatePasswordReset(ctx, "alice@x.com"))
	code := env.notifier.LastCode(t, PurposePasswordReset)

	err = env.auth.ResetPassword(ctx, code, "weak")
	assert.Equal(t, apperr.KindWeakPassword, apperr.KindOf(err))

	const newPassword = "N3w!Password"
	require.NoError(t, env.auth.ResetPassword(ctx, code, newPassword), "weak attempt did not burn the code")
	assert.Equal(t, 1, env.notifier.Count(PurposePasswordChanged))

	_, err = env.auth.RefreshAccessToken(ctx, s.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "reset revokes sessions")

	_, err = env.auth.Login(ctx, "alice", alicePassword)
	assert.Equal(t, apperr.KindInvalidCredentials, apperr.KindOf(err))
	_, err = env.auth.Login(ctx, "alice", newPassword)
	require.NoError(t, err)

	err = env.auth.ResetPassword(ctx, code, "An0ther!Pass")
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
}

func TestResetPasswordExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	env.verifiedAlice(t)
	ctx := context.Background()

	require.NoError(t, env.auth.InitiatePasswordReset(ctx, "alice@x.com"))
	code := env.notifier.LastCode(t, PurposePasswordReset)

	env.clock.Advance(20 * time.Minute)
	err := env.auth.ResetPassword(ctx, code, "N3w!Password")
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))

	err = env.auth.ResetPassword(ctx, "12", "N3w!Password")
	assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
}
