package cmd

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/argussec/go-console/credentials"
	"github.com/argussec/go-console/identity"
	"github.com/argussec/go-console/internal/config"
	"github.com/argussec/go-console/mfa"
	"github.com/argussec/go-console/platform"
	"github.com/argussec/go-console/session"
	"github.com/argussec/go-console/token"
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Argus Console is the terminal client for the Argus security-operations platform",
	Long: `Terminal client for the Argus security-operations platform:
alert triage, compliance posture, and session management against the Argus identity API.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// app bundles the wired subsystem for commands.
type app struct {
	cfg      *config.Config
	store    *credentials.BoltStore
	sessions *session.Service
	platform *platform.Client
}

// newApp constructs the session subsystem from environment configuration.
// Commands call this once; the credential store must be closed by the caller.
func newApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level)

	store, err := credentials.NewBoltStore(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}

	client := identity.New(cfg.IdentityBaseURL,
		identity.WithTimeout(cfg.HTTPTimeout),
		identity.WithLogger(logger))
	coordinator := token.NewCoordinator(client, store, token.WithLogger(logger))
	challenges := mfa.NewManager(client, mfa.WithLogger(logger))

	sessions, err := session.NewService(client, store, coordinator, challenges,
		session.WithLogger(logger),
		session.WithRefreshLeeway(cfg.RefreshLeeway))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		platform: platform.New(cfg.PlatformBaseURL, coordinator, platform.WithLogger(logger)),
	}, nil
}

func (a *app) close() {
	a.sessions.Close()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close credential store")
	}
}

func displayBanner(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
