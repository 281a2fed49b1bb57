package users_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argussec/go-console/internal/utils"
	"github.com/argussec/go-console/users"
)

func TestFromPayloadDefaults(t *testing.T) {
	u := users.FromPayload(users.Payload{ID: "u-1", Email: "a@b.example"})

	require.Equal(t, "u-1", u.ID)
	require.Equal(t, users.RoleViewer, u.Role)
	require.Equal(t, users.DefaultDigest, u.NotificationDigest)
	require.Equal(t, users.MFANone, u.MFAMethod)
	require.True(t, u.LastLogin.IsZero())
}

func TestFromPayloadExplicitFieldsWin(t *testing.T) {
	lastLogin := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	u := users.FromPayload(users.Payload{
		ID:                 "u-2",
		Email:              "c@d.example",
		FirstName:          utils.Ptr("Dana"),
		LastName:           utils.Ptr("Reyes"),
		Role:               utils.Ptr(users.RoleAdmin),
		MFAMethod:          utils.Ptr(users.MFAApp),
		LastLogin:          utils.Ptr(lastLogin),
		NotificationDigest: utils.Ptr(users.DigestDaily),
	})

	require.Equal(t, users.RoleAdmin, u.Role)
	require.Equal(t, users.DigestDaily, u.NotificationDigest)
	require.Equal(t, users.MFAApp, u.MFAMethod)
	require.Equal(t, lastLogin, u.LastLogin)
	require.Equal(t, "Dana Reyes", u.FullName())
}

func TestFromPayloadEmptyStringsFallBack(t *testing.T) {
	u := users.FromPayload(users.Payload{
		ID:                 "u-3",
		Email:              "e@f.example",
		Role:               utils.Ptr(users.RoleType("")),
		NotificationDigest: utils.Ptr(users.DigestFrequency("")),
	})

	require.Equal(t, users.RoleViewer, u.Role)
	require.Equal(t, users.DefaultDigest, u.NotificationDigest)
}

func TestFullNameFallsBackToEmail(t *testing.T) {
	u := users.User{Email: "solo@argus.example"}
	require.Equal(t, "solo@argus.example", u.FullName())

	u.FirstName = "Sam"
	require.Equal(t, "Sam", u.FullName())
}
