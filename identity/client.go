// Package identity implements the JSON-over-HTTP client for the Argus
// identity API. The client is stateless: it attaches whatever credentials it
// is handed and maps wire failures onto the shared error taxonomy. Retry and
// refresh queueing live in the token package, not here.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/argussec/go-console/credentials"
	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/users"
)

const defaultTimeout = 15 * time.Second

// Client speaks the identity wire protocol.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call network timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates an identity client rooted at baseURL.
func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Login exchanges credentials for either a token pair or an MFA challenge.
// A 401 maps to ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp loginResponse
	err := c.post(ctx, "/v1/auth/login", "", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusUnauthorized {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[Client.Login] post")
	}

	if resp.Require2FA {
		c.log.Debug().Str("userId", resp.UserID).Msg("login requires second factor")
		method := users.MFAMethod(resp.MFAMethod)
		if method == users.MFANone {
			method = users.MFAApp
		}
		return &LoginResult{MFA: &MFARequiredResult{
			UserID:         resp.UserID,
			VerificationID: resp.VerificationID,
			Method:         method,
		}}, nil
	}

	auth, err := authResult(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt, resp.User)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login] authResult")
	}
	return &LoginResult{Auth: auth}, nil
}

// VerifyMFA submits a challenge code. 400 maps to ErrMfaInvalidCode and 410
// to ErrMfaChallengeExpired.
func (c *Client) VerifyMFA(ctx context.Context, userID, verificationID string, method users.MFAMethod, code string) (*AuthResult, error) {
	var resp loginResponse
	err := c.post(ctx, "/v1/auth/mfa/verify", "", verifyMFARequest{
		UserID:         userID,
		VerificationID: verificationID,
		Method:         string(method),
		Code:           code,
	}, &resp)
	if err != nil {
		switch httpStatus(err) {
		case http.StatusBadRequest:
			return nil, apperrors.ErrMfaInvalidCode
		case http.StatusGone:
			return nil, apperrors.ErrMfaChallengeExpired
		}
		return nil, errors.Wrap(err, "[Client.VerifyMFA] post")
	}

	auth, err := authResult(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt, resp.User)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.VerifyMFA] authResult")
	}
	return auth, nil
}

// SendCode asks the server to issue and deliver a fresh verification code,
// returning the new verification id. 429 maps to ErrRateLimited; the
// server's message is carried in the wrapped error verbatim.
func (c *Client) SendCode(ctx context.Context, userID string, method users.MFAMethod) (string, error) {
	var resp sendCodeResponse
	err := c.post(ctx, "/v1/auth/mfa/send", "", sendCodeRequest{UserID: userID, Method: string(method)}, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusTooManyRequests {
			return "", errors.Wrap(apperrors.ErrRateLimited, apiMessage(err))
		}
		return "", errors.Wrap(err, "[Client.SendCode] post")
	}
	if !resp.Success || resp.VerificationID == "" {
		return "", errors.New("[Client.SendCode] server accepted request without issuing a verification id")
	}
	return resp.VerificationID, nil
}

// Refresh exchanges a refresh token for a new token pair. A 401 means the
// refresh token itself is invalid or expired and maps to ErrRefreshFailed.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credentials.TokenPair, error) {
	var resp refreshResponse
	err := c.post(ctx, "/v1/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusUnauthorized {
			return credentials.TokenPair{}, apperrors.ErrRefreshFailed
		}
		return credentials.TokenPair{}, errors.Wrap(err, "[Client.Refresh] post")
	}
	return tokenPair(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt), nil
}

// CurrentUser fetches the profile behind the access token. A 401 maps to
// ErrTokenExpired so the refresh coordinator can react.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (users.User, error) {
	var resp currentUserResponse
	err := c.get(ctx, "/v1/auth/me", accessToken, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusUnauthorized {
			return users.User{}, apperrors.ErrTokenExpired
		}
		return users.User{}, errors.Wrap(err, "[Client.CurrentUser] get")
	}
	return users.FromPayload(resp.User), nil
}

// Logout revokes the refresh token server-side. Callers treat this as
// best-effort; local teardown proceeds regardless of the result.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	err := c.post(ctx, "/v1/auth/logout", "", logoutRequest{RefreshToken: refreshToken}, nil)
	return errors.Wrap(err, "[Client.Logout] post")
}

func authResult(access, refresh string, expiresAt *time.Time, payload *users.Payload) (*AuthResult, error) {
	if access == "" || refresh == "" {
		return nil, errors.New("incomplete token pair in response")
	}
	if payload == nil {
		return nil, errors.New("missing user in response")
	}
	return &AuthResult{
		Tokens: tokenPair(access, refresh, expiresAt),
		User:   users.FromPayload(*payload),
	}, nil
}

// tokenPair builds the stored pair, filling the expiry from the access
// token's exp claim when the server omits it. The claim is read without
// signature verification; the client never trusts it for anything beyond
// scheduling the proactive refresh.
func tokenPair(access, refresh string, expiresAt *time.Time) credentials.TokenPair {
	pair := credentials.TokenPair{AccessToken: access, RefreshToken: refresh}
	if expiresAt != nil {
		pair.ExpiresAt = *expiresAt
		return pair
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			pair.ExpiresAt = exp.Time
		}
	}
	return pair
}

// statusError carries the HTTP status and the server's error body through
// the error chain.
type statusError struct {
	status  int
	code    string
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("identity api: %d %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("identity api: status %d", e.status)
}

// httpStatus extracts the HTTP status from an error chain, or 0.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// apiMessage returns the server-provided message from an error chain, used
// to surface rate-limit rejections verbatim.
func apiMessage(err error) string {
	var se *statusError
	if errors.As(err, &se) && se.message != "" {
		return se.message
	}
	return err.Error()
}

func (c *Client) post(ctx context.Context, path, accessToken string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	return c.do(ctx, http.MethodPost, path, accessToken, bytes.NewReader(raw), out)
}

func (c *Client) get(ctx context.Context, path, accessToken string, out any) error {
	return c.do(ctx, http.MethodGet, path, accessToken, nil, out)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(apperrors.ErrNetwork, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		se := &statusError{status: resp.StatusCode}
		var ae apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ae); decodeErr == nil {
			se.code = ae.Error
			se.message = ae.Message
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("identity api error")
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
