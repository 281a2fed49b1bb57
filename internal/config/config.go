package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds all runtime settings for the console client, loaded from the
// environment.
type Config struct {
	AppName string `env:"ARGUS_APP_NAME" envDefault:"Argus Console"`

	// IdentityBaseURL is the root of the identity API, e.g.
	// https://id.argus.example.com
	IdentityBaseURL string `env:"ARGUS_IDENTITY_URL" envDefault:"http://localhost:8090"`

	// PlatformBaseURL is the root of the alerts/compliance API.
	PlatformBaseURL string `env:"ARGUS_PLATFORM_URL" envDefault:"http://localhost:8091"`

	// HTTPTimeout bounds every individual identity/platform call, including
	// the refresh call (a timed-out refresh counts as a refresh failure).
	HTTPTimeout time.Duration `env:"ARGUS_HTTP_TIMEOUT" envDefault:"15s"`

	// CredentialsPath is the bbolt file holding the persisted token pair.
	CredentialsPath string `env:"ARGUS_CREDENTIALS_PATH" envDefault:"./data/credentials.db"`

	// RefreshLeeway is how long before access-token expiry the proactive
	// refresh timer fires.
	RefreshLeeway time.Duration `env:"ARGUS_REFRESH_LEEWAY" envDefault:"30s"`

	LogLevel string `env:"ARGUS_LOG_LEVEL" envDefault:"info"`
}

// New loads configuration from the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.New] env.Parse")
	}
	return cfg, nil
}
