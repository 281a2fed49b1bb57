package platform_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/argussec/go-console/credentials"
	"github.com/argussec/go-console/identity"
	"github.com/argussec/go-console/identity/identitytest"
	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/platform"
	"github.com/argussec/go-console/token"
	"github.com/argussec/go-console/users"
)

type fixture struct {
	idp         *identitytest.Server
	store       *credentials.MemoryStore
	client      *platform.Client
	coordinator *token.Coordinator
	ackCount    atomic.Int32
}

// newFixture wires a platform API stub that honors the identity stub's
// access tokens, behind a coordinator-guarded client with a live session.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{idp: identitytest.NewServer()}
	f.idp.AddAccount("soc@argus.example.com", "password123A", users.MFANone, "")

	idpServer := httptest.NewServer(f.idp.Handler())
	t.Cleanup(idpServer.Close)

	r := chi.NewRouter()
	r.Use(f.requireToken)
	r.Get("/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		alerts := []platform.Alert{
			{ID: "al-1", Title: "Root login without MFA", Severity: platform.SeverityCritical, Status: "open", Source: "aws", CreatedAt: time.Now()},
			{ID: "al-2", Title: "Public S3 bucket", Severity: platform.SeverityHigh, Status: "open", Source: "aws", CreatedAt: time.Now()},
		}
		if sev := req.URL.Query().Get("severity"); sev != "" {
			filtered := alerts[:0]
			for _, a := range alerts {
				if string(a.Severity) == sev {
					filtered = append(filtered, a)
				}
			}
			alerts = filtered
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"alerts": alerts, "total": len(alerts)})
	})
	r.Post("/v1/alerts/{id}/ack", func(w http.ResponseWriter, req *http.Request) {
		f.ackCount.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})
	r.Get("/v1/compliance/{framework}", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(platform.ComplianceReport{
			Framework:   chi.URLParam(req, "framework"),
			Score:       0.87,
			Controls:    []platform.ControlResult{{ControlID: "1.1", Title: "MFA for root", Passed: false, FailedCount: 2}},
			GeneratedAt: time.Now(),
		})
	})
	apiServer := httptest.NewServer(r)
	t.Cleanup(apiServer.Close)

	f.store = credentials.NewMemoryStore()
	idClient := identity.New(idpServer.URL)
	f.coordinator = token.NewCoordinator(idClient, f.store)
	f.client = platform.New(apiServer.URL, f.coordinator)

	result, err := idClient.Login(context.Background(), "soc@argus.example.com", "password123A")
	require.NoError(t, err)
	require.NoError(t, f.store.Save(result.Auth.Tokens))

	return f
}

func (f *fixture) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if raw == "" || !f.idp.ValidAccessToken(raw) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token_expired"}`))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t)

	alerts, err := f.client.ListAlerts(context.Background(), platform.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	critical, err := f.client.ListAlerts(context.Background(), platform.AlertFilter{Severity: platform.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	require.Equal(t, "al-1", critical[0].ID)
}

func TestGuardedCallSurvivesTokenExpiry(t *testing.T) {
	f := newFixture(t)

	// Expire the session mid-flight: the guard must refresh once and replay.
	f.idp.InvalidateAccessTokens()

	alerts, err := f.client.ListAlerts(context.Background(), platform.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, 1, f.idp.RefreshCalls())
}

func TestGuardedPostReplaysBody(t *testing.T) {
	f := newFixture(t)
	f.idp.InvalidateAccessTokens()

	require.NoError(t, f.client.AcknowledgeAlert(context.Background(), "al-1"))
	require.Equal(t, int32(1), f.ackCount.Load(), "exactly one acknowledged after the replay")
	require.Equal(t, 1, f.idp.RefreshCalls())
}

func TestGetComplianceReport(t *testing.T) {
	f := newFixture(t)

	report, err := f.client.GetComplianceReport(context.Background(), "cis-aws")
	require.NoError(t, err)
	require.Equal(t, "cis-aws", report.Framework)
	require.InDelta(t, 0.87, report.Score, 0.0001)
	require.Len(t, report.Controls, 1)
}

func TestCallsFailWithoutSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Clear())

	_, err := f.client.ListAlerts(context.Background(), platform.AlertFilter{})
	require.ErrorIs(t, err, apperrors.ErrNoSession)
}
