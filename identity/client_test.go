package identity_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argussec/go-console/identity"
	"github.com/argussec/go-console/identity/identitytest"
	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/users"
)

const (
	testEmail    = "ops@argus.example.com"
	testPassword = "hunter2hunter2"
	testCode     = "246802"
)

func newClient(t *testing.T, method users.MFAMethod, options ...identitytest.ServerOption) (*identity.Client, *identitytest.Server) {
	t.Helper()
	stub := identitytest.NewServer(options...)
	stub.AddAccount(testEmail, testPassword, method, testCode)
	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)
	return identity.New(server.URL), stub
}

func TestLoginSuccess(t *testing.T) {
	client, _ := newClient(t, users.MFANone, identitytest.WithTokenTTL(10*time.Minute))

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Auth)
	require.Nil(t, result.MFA)
	require.Equal(t, testEmail, result.Auth.User.Email)
	require.True(t, result.Auth.Tokens.Valid())

	// Expiry comes from the access token's exp claim when the response
	// omits it.
	remaining := time.Until(result.Auth.Tokens.ExpiresAt)
	require.Greater(t, remaining, 9*time.Minute)
	require.LessOrEqual(t, remaining, 10*time.Minute)
}

func TestLoginInvalidCredentials(t *testing.T) {
	client, _ := newClient(t, users.MFANone)

	_, err := client.Login(context.Background(), testEmail, "nope")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLoginMFARequired(t *testing.T) {
	client, _ := newClient(t, users.MFASms)

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Nil(t, result.Auth, "no tokens before the second factor")
	require.NotNil(t, result.MFA)
	require.NotEmpty(t, result.MFA.UserID)
	require.NotEmpty(t, result.MFA.VerificationID)
	require.Equal(t, users.MFASms, result.MFA.Method)
}

func TestVerifyMFAErrorMapping(t *testing.T) {
	client, _ := newClient(t, users.MFAApp)

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	_, err = client.VerifyMFA(context.Background(), result.MFA.UserID, result.MFA.VerificationID, users.MFAApp, "999999")
	require.ErrorIs(t, err, apperrors.ErrMfaInvalidCode)

	_, err = client.VerifyMFA(context.Background(), result.MFA.UserID, "gone-id", users.MFAApp, testCode)
	require.ErrorIs(t, err, apperrors.ErrMfaChallengeExpired)

	auth, err := client.VerifyMFA(context.Background(), result.MFA.UserID, result.MFA.VerificationID, users.MFAApp, testCode)
	require.NoError(t, err)
	require.True(t, auth.Tokens.Valid())
}

func TestSendCodeRateLimited(t *testing.T) {
	client, _ := newClient(t, users.MFASms, identitytest.WithSendLimit(1))

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	id, err := client.SendCode(context.Background(), result.MFA.UserID, users.MFASms)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = client.SendCode(context.Background(), result.MFA.UserID, users.MFASms)
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestRefreshRotatesTokens(t *testing.T) {
	client, stub := newClient(t, users.MFANone)

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	old := result.Auth.Tokens

	pair, err := client.Refresh(context.Background(), old.RefreshToken)
	require.NoError(t, err)
	require.True(t, pair.Valid())
	require.NotEqual(t, old.RefreshToken, pair.RefreshToken)
	require.False(t, stub.HasRefreshToken(old.RefreshToken), "used refresh token is invalidated")
}

func TestRefreshInvalidToken(t *testing.T) {
	client, _ := newClient(t, users.MFANone)

	_, err := client.Refresh(context.Background(), "bogus")
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
}

func TestCurrentUser(t *testing.T) {
	client, stub := newClient(t, users.MFANone)

	result, err := client.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	user, err := client.CurrentUser(context.Background(), result.Auth.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, testEmail, user.Email)
	require.Equal(t, users.DefaultDigest, user.NotificationDigest, "missing digest falls back to the default")

	stub.InvalidateAccessTokens()
	_, err = client.CurrentUser(context.Background(), result.Auth.Tokens.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestNetworkErrorClassification(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close()
	client := identity.New(server.URL)

	_, err := client.Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, apperrors.ErrNetwork)
}
