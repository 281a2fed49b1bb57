package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	Long: `Clears the locally persisted token pair and best-effort revokes the
refresh token server-side. The local session ends even if the server call fails.`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cobraCmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.sessions.Logout(cobraCmd.Context())
	fmt.Println("Signed out.")
	return nil
}
