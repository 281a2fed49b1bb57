package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/argussec/go-console/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE:  runStatus,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated user",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runStatus(cobraCmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := a.sessions.Restore(cobraCmd.Context())
	if err != nil {
		fmt.Println("Not signed in (session could not be restored).")
		return nil
	}
	if snap.State != session.Authenticated {
		fmt.Println("Not signed in.")
		return nil
	}

	fmt.Printf("Signed in as %s (%s)\n", snap.User.FullName(), snap.User.Email)
	if snap.User.Role != "" {
		fmt.Printf("Role: %s\n", snap.User.Role)
	}
	return nil
}
