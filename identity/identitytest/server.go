// Package identitytest is an in-process implementation of the identity wire
// protocol for tests and local development. It is deliberately small: fixed
// verification codes, in-memory token tables, and switches for forcing
// expiry and refresh failure.
package identitytest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/argussec/go-console/users"
)

const defaultTokenTTL = 15 * time.Minute

// Account is a provisioned test user.
type Account struct {
	ID           string
	Email        string
	passwordHash []byte
	MFAMethod    users.MFAMethod
	// Code is the verification code the stub accepts for this account.
	Code string
}

type challenge struct {
	userID string
	method users.MFAMethod
}

// Server implements the identity API in memory.
type Server struct {
	router     chi.Router
	signingKey []byte
	tokenTTL   time.Duration

	mu            sync.Mutex
	accounts      map[string]*Account // keyed by email
	challenges    map[string]challenge
	accessTokens  map[string]string // access token -> user ID
	refreshTokens map[string]string // refresh token -> user ID

	refreshCalls int
	failRefresh  bool
	sendCalls    int
	sendLimit    int
}

// ServerOption configures the stub.
type ServerOption func(*Server)

// WithTokenTTL sets how long minted access tokens live.
func WithTokenTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.tokenTTL = ttl }
}

// WithSendLimit caps how many send-code requests succeed before the stub
// starts answering 429.
func WithSendLimit(n int) ServerOption {
	return func(s *Server) { s.sendLimit = n }
}

// NewServer creates the stub with no accounts provisioned.
func NewServer(options ...ServerOption) *Server {
	s := &Server{
		signingKey:    []byte(uuid.NewString()),
		tokenTTL:      defaultTokenTTL,
		accounts:      make(map[string]*Account),
		challenges:    make(map[string]challenge),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/v1/auth/login", s.handleLogin)
	r.Post("/v1/auth/mfa/verify", s.handleVerify)
	r.Post("/v1/auth/mfa/send", s.handleSendCode)
	r.Post("/v1/auth/refresh", s.handleRefresh)
	r.Get("/v1/auth/me", s.handleCurrentUser)
	r.Post("/v1/auth/logout", s.handleLogout)
	s.router = r
	return s
}

// Handler returns the HTTP handler for use with httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.router }

// AddAccount provisions a user. method of users.MFANone disables the second
// factor; code is the verification code accepted for MFA logins.
func (s *Server) AddAccount(email, password string, method users.MFAMethod, code string) *Account {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	acct := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		passwordHash: hash,
		MFAMethod:    method,
		Code:         code,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = acct
	return acct
}

// ValidAccessToken reports whether the stub considers the access token live.
// Companion test servers (e.g. a platform API stub) use it to answer 401 the
// same way the identity API would.
func (s *Server) ValidAccessToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accessTokens[token]
	return ok
}

// InvalidateAccessTokens revokes every outstanding access token, so the next
// authenticated call answers 401.
func (s *Server) InvalidateAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]string)
}

// SetFailRefresh makes the refresh endpoint reject every refresh token.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// RefreshCalls reports how many refresh requests the stub has served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// HasRefreshToken reports whether the given refresh token is still live.
func (s *Server) HasRefreshToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refreshTokens[token]
	return ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	if acct.MFAMethod != users.MFANone {
		verificationID := uuid.NewString()
		s.mu.Lock()
		s.challenges[verificationID] = challenge{userID: acct.ID, method: acct.MFAMethod}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"require2FA":     true,
			"userId":         acct.ID,
			"verificationId": verificationID,
			"mfaMethod":      string(acct.MFAMethod),
		})
		return
	}

	s.issueTokens(w, acct)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"userId"`
		VerificationID string `json:"verificationId"`
		Method         string `json:"method"`
		Code           string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}

	s.mu.Lock()
	ch, ok := s.challenges[req.VerificationID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusGone, "challenge_expired", "verification challenge expired")
		return
	}

	acct := s.accountByID(ch.userID)
	if acct == nil || req.UserID != ch.userID || req.Code != acct.Code {
		writeError(w, http.StatusBadRequest, "invalid_code", "verification code is incorrect")
		return
	}

	s.mu.Lock()
	delete(s.challenges, req.VerificationID)
	s.mu.Unlock()
	s.issueTokens(w, acct)
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}

	s.mu.Lock()
	s.sendCalls++
	limited := s.sendLimit > 0 && s.sendCalls > s.sendLimit
	s.mu.Unlock()
	if limited {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many codes requested, wait before retrying")
		return
	}

	acct := s.accountByID(req.UserID)
	if acct == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown user")
		return
	}

	verificationID := uuid.NewString()
	s.mu.Lock()
	// A fresh code invalidates every previous challenge for the user.
	for id, ch := range s.challenges {
		if ch.userID == acct.ID {
			delete(s.challenges, id)
		}
	}
	s.challenges[verificationID] = challenge{userID: acct.ID, method: users.MFAMethod(req.Method)}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "verificationId": verificationID})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}

	s.mu.Lock()
	s.refreshCalls++
	fail := s.failRefresh
	userID, ok := s.refreshTokens[req.RefreshToken]
	if ok && !fail {
		delete(s.refreshTokens, req.RefreshToken)
	}
	s.mu.Unlock()

	if fail || !ok {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token invalid or expired")
		return
	}

	acct := s.accountByID(userID)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token invalid or expired")
		return
	}

	access, refresh := s.mintTokens(acct)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	acct := s.authenticate(r)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "token_expired", "access token invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(acct)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}
	s.mu.Lock()
	delete(s.refreshTokens, req.RefreshToken)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) issueTokens(w http.ResponseWriter, acct *Account) {
	access, refresh := s.mintTokens(acct)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         userPayload(acct),
	})
}

// mintTokens creates a signed access token plus an opaque refresh token and
// records both.
func (s *Server) mintTokens(acct *Account) (access, refresh string) {
	claims := jwt.MapClaims{
		"sub": acct.ID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.tokenTTL).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		panic(err)
	}
	refresh = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[access] = acct.ID
	s.refreshTokens[refresh] = acct.ID
	return access, refresh
}

func (s *Server) authenticate(r *http.Request) *Account {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return nil
	}
	raw := header[len(prefix):]

	s.mu.Lock()
	userID, ok := s.accessTokens[raw]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}); err != nil {
		return nil
	}
	return s.accountByID(userID)
}

func (s *Server) accountByID(id string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.ID == id {
			return acct
		}
	}
	return nil
}

func userPayload(acct *Account) map[string]any {
	return map[string]any{
		"id":        acct.ID,
		"email":     acct.Email,
		"role":      "analyst",
		"mfaMethod": string(acct.MFAMethod),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
