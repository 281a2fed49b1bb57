package credentials

import "time"

// TokenPair is the access/refresh token pair issued by the identity API.
// Both tokens are replaced together on every login, MFA completion, and
// refresh; a store never holds one without the other.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether both tokens are present.
func (tp TokenPair) Valid() bool {
	return tp.AccessToken != "" && tp.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires within d of now.
// An unknown expiry (zero time) is treated as not expiring.
func (tp TokenPair) ExpiresWithin(d time.Duration) bool {
	if tp.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(tp.ExpiresAt) <= d
}

// Store persists the token pair and the remembered login identifier across
// process restarts. Load returning ok=false is equivalent to an anonymous
// session. Save replaces the whole pair atomically; partial updates do not
// exist at this interface.
type Store interface {
	Load() (pair TokenPair, ok bool, err error)
	Save(pair TokenPair) error
	Clear() error

	RememberEmail(email string) error
	RememberedEmail() (string, error)
}
