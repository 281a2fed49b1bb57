package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/platform"
)

var (
	alertSeverity string
	alertStatus   string
	alertLimit    int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List open alerts",
	RunE:  runAlerts,
}

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAck,
}

func init() {
	alertsCmd.Flags().StringVar(&alertSeverity, "severity", "", "filter by severity (critical|high|medium|low)")
	alertsCmd.Flags().StringVar(&alertStatus, "status", "open", "filter by status")
	alertsCmd.Flags().IntVar(&alertLimit, "limit", 25, "maximum alerts to list")
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(ackCmd)
}

func runAlerts(cobraCmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requireSession(cobraCmd, a); err != nil {
		return err
	}

	alerts, err := a.platform.ListAlerts(cobraCmd.Context(), platform.AlertFilter{
		Severity: platform.Severity(alertSeverity),
		Status:   alertStatus,
		Limit:    alertLimit,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) || errors.Is(err, apperrors.ErrNoSession) {
			return errors.New("session expired, sign in again")
		}
		return err
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts match.")
		return nil
	}

	w := tabwriter.NewWriter(cobraCmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tSTATUS\tSOURCE\tTITLE")
	for _, alert := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", alert.ID, alert.Severity, alert.Status, alert.Source, alert.Title)
	}
	return w.Flush()
}

func runAck(cobraCmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requireSession(cobraCmd, a); err != nil {
		return err
	}

	if err := a.platform.AcknowledgeAlert(cobraCmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Alert %s acknowledged.\n", args[0])
	return nil
}

func requireSession(cobraCmd *cobra.Command, a *app) error {
	snap, err := a.sessions.Restore(cobraCmd.Context())
	if err != nil || !snap.State.Authenticated() {
		return errors.New("not signed in, run 'console login' first")
	}
	return nil
}
