// idpstub runs the in-memory identity API stub for local development. It
// provisions one account per ARGUS_STUB_USER entry (email:password[:method])
// and serves the same wire protocol as the production identity service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/argussec/go-console/identity/identitytest"
	"github.com/argussec/go-console/users"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("idpstub exited")
	}
}

func run() error {
	addr := os.Getenv("ARGUS_STUB_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	stub := identitytest.NewServer(identitytest.WithTokenTTL(5 * time.Minute))
	provisionAccounts(stub)

	server := &http.Server{Addr: addr, Handler: stub.Handler()}
	go func() {
		log.Info().Str("addr", addr).Msg("identity stub listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen and serve")
		}
	}()

	waitForStopSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// provisionAccounts reads ARGUS_STUB_USERS, a comma-separated list of
// email:password[:method][:code] entries. Without it a default analyst
// account is created.
func provisionAccounts(stub *identitytest.Server) {
	raw := os.Getenv("ARGUS_STUB_USERS")
	if raw == "" {
		stub.AddAccount("analyst@argus.local", "changeme1A", users.MFANone, "")
		log.Info().Msg("provisioned default account analyst@argus.local / changeme1A")
		return
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 {
			log.Warn().Str("entry", entry).Msg("skipping malformed stub user entry")
			continue
		}
		method := users.MFANone
		code := "000000"
		if len(parts) > 2 {
			method = users.MFAMethod(parts[2])
		}
		if len(parts) > 3 {
			code = parts[3]
		}
		stub.AddAccount(parts[0], parts[1], method, code)
		log.Info().Str("email", parts[0]).Str("mfa", string(method)).Msg("provisioned account")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}
