package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/session"
)

var (
	loginEmail    string
	rememberEmail bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the Argus identity API",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "login email (prompted if omitted)")
	loginCmd.Flags().BoolVar(&rememberEmail, "remember", false, "remember this email for the next login")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cobraCmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	displayBanner(a.cfg.AppName)
	ctx := cobraCmd.Context()
	reader := bufio.NewReader(os.Stdin)

	email := strings.TrimSpace(loginEmail)
	if email == "" {
		if remembered, _ := a.store.RememberedEmail(); remembered != "" {
			email = remembered
			fmt.Printf("Email [%s]: ", remembered)
		} else {
			fmt.Print("Email: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "reading email")
		}
		if entered := strings.TrimSpace(line); entered != "" {
			email = entered
		}
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return errors.Wrap(err, "reading password")
	}

	snap, err := a.sessions.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			return errors.New("email or password is incorrect")
		}
		return err
	}

	if snap.State == session.MfaPending {
		snap, err = promptMFA(cobraCmd, a, reader)
		if err != nil {
			return err
		}
	}

	if rememberEmail {
		if err := a.store.RememberEmail(email); err != nil {
			return err
		}
	}

	fmt.Printf("Signed in as %s\n", snap.User.FullName())
	return nil
}

// promptMFA loops on the verification code until the challenge succeeds,
// expires, or the user gives up.
func promptMFA(cobraCmd *cobra.Command, a *app, reader *bufio.Reader) (session.Snapshot, error) {
	ctx := cobraCmd.Context()
	snap := a.sessions.Snapshot()
	fmt.Printf("Second factor required (%s). Enter 'resend' for a new code or an empty line to cancel.\n", snap.Challenge.Method)

	for {
		fmt.Print("Code: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return snap, errors.Wrap(err, "reading code")
		}
		code := strings.TrimSpace(line)

		switch code {
		case "":
			a.sessions.Logout(ctx)
			return snap, errors.New("login cancelled")
		case "resend":
			if err := a.sessions.ResendCode(ctx, snap.Challenge.Method); err != nil {
				fmt.Printf("could not resend: %v\n", err)
			} else {
				fmt.Println("A new code is on its way.")
			}
			continue
		}

		snap, err = a.sessions.VerifyMfa(ctx, code)
		switch {
		case err == nil:
			return snap, nil
		case errors.Is(err, apperrors.ErrMfaMalformedCode),
			errors.Is(err, apperrors.ErrMfaInvalidCode):
			fmt.Printf("Code rejected (%d failed attempts), try again.\n", a.sessions.MfaFailures())
		case errors.Is(err, apperrors.ErrMfaChallengeExpired):
			return snap, errors.New("verification challenge expired, start login again")
		default:
			return snap, err
		}
	}
}
