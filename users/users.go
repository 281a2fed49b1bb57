package users

import "time"

// MFAMethod identifies the second factor a user verifies with.
type MFAMethod string

const (
	MFANone     MFAMethod = ""
	MFAApp      MFAMethod = "app"
	MFASms      MFAMethod = "sms"
	MFAEmail    MFAMethod = "email"
	MFARecovery MFAMethod = "recovery"
)

// RoleType represents a user role on the platform
type RoleType string

const (
	RoleAdmin   RoleType = "admin"
	RoleAnalyst RoleType = "analyst"
	RoleAuditor RoleType = "auditor"
	RoleViewer  RoleType = "viewer"
)

// DigestFrequency controls how often notification digests are emailed.
type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
	DigestNever  DigestFrequency = "never"
)

// DefaultDigest is applied when the server payload omits the digest
// frequency.
const DefaultDigest = DigestWeekly

// User is the authenticated console user as reported by the identity API.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Role      RoleType  `json:"role,omitempty"`
	MFAMethod MFAMethod `json:"mfaMethod,omitempty"`
	LastLogin time.Time `json:"lastLogin,omitempty"`

	NotificationDigest DigestFrequency `json:"notificationDigest,omitempty"`
}

// Payload is the raw user object on the wire. Optional fields are pointers
// so that absence is distinguishable from the zero value.
type Payload struct {
	ID                 string           `json:"id"`
	Email              string           `json:"email"`
	FirstName          *string          `json:"firstName"`
	LastName           *string          `json:"lastName"`
	Role               *RoleType        `json:"role"`
	MFAMethod          *MFAMethod       `json:"mfaMethod"`
	LastLogin          *time.Time       `json:"lastLogin"`
	NotificationDigest *DigestFrequency `json:"notificationDigest"`
}

// FromPayload is the single canonical conversion from a server user payload.
// Missing role falls back to viewer and a missing notification digest
// frequency falls back to DefaultDigest.
func FromPayload(p Payload) User {
	u := User{
		ID:                 p.ID,
		Email:              p.Email,
		Role:               RoleViewer,
		NotificationDigest: DefaultDigest,
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Role != nil && *p.Role != "" {
		u.Role = *p.Role
	}
	if p.MFAMethod != nil {
		u.MFAMethod = *p.MFAMethod
	}
	if p.LastLogin != nil {
		u.LastLogin = *p.LastLogin
	}
	if p.NotificationDigest != nil && *p.NotificationDigest != "" {
		u.NotificationDigest = *p.NotificationDigest
	}
	return u
}

// FullName returns the display name for the user.
func (u User) FullName() string {
	switch {
	case u.FirstName == "" && u.LastName == "":
		return u.Email
	case u.LastName == "":
		return u.FirstName
	case u.FirstName == "":
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}
