package identity

import (
	"time"

	"github.com/argussec/go-console/credentials"
	"github.com/argussec/go-console/users"
)

// Wire payloads for the identity API. Field names follow the server's JSON
// contract.

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
	User         *users.Payload `json:"user"`

	Require2FA     bool   `json:"require2FA"`
	UserID         string `json:"userId"`
	VerificationID string `json:"verificationId"`
	MFAMethod      string `json:"mfaMethod"`
}

type verifyMFARequest struct {
	UserID         string `json:"userId"`
	VerificationID string `json:"verificationId"`
	Method         string `json:"method"`
	Code           string `json:"code"`
}

type sendCodeRequest struct {
	UserID string `json:"userId"`
	Method string `json:"method"`
}

type sendCodeResponse struct {
	Success        bool   `json:"success"`
	VerificationID string `json:"verificationId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type currentUserResponse struct {
	User users.Payload `json:"user"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AuthResult is a completed authentication: a full token pair plus the
// authenticated user.
type AuthResult struct {
	Tokens credentials.TokenPair
	User   users.User
}

// MFARequiredResult is the login outcome when the server demands a second
// factor. No tokens are issued until the challenge is verified.
type MFARequiredResult struct {
	UserID         string
	VerificationID string
	Method         users.MFAMethod
}

// LoginResult carries exactly one of Auth or MFA.
type LoginResult struct {
	Auth *AuthResult
	MFA  *MFARequiredResult
}
