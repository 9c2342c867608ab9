package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"snowpulse/internal/alerts"
	"snowpulse/internal/scheduler"
	"snowpulse/internal/ui"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Raise and list alerts",
}

var alertsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate alert rules once",
	Long: `Evaluate the data-quality failure rule and, when enabled, the market rules.
Each candidate is recorded in the alert log at most once per dedup window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := runAlerts(cmd.Context(), a)
		if report != nil {
			printAlertReport(cmd, report)
		}
		return err
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		db, err := a.db(ctx)
		if err != nil {
			return err
		}
		log, err := a.alertLog(db)
		if err != nil {
			return err
		}
		recent, err := log.Recent(ctx, limit)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No alerts recorded")
			return nil
		}
		ui.RenderAlertTable(cmd.OutOrStdout(), recent)
		return nil
	},
}

// runAlerts runs every detector under the alerts run lock
func runAlerts(ctx context.Context, a *app) (*alerts.Report, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	notifier, detectors, err := a.notifier(ctx, db)
	if err != nil {
		return nil, err
	}
	locker, err := a.oneShotLocker(ctx)
	if err != nil {
		return nil, err
	}

	var report *alerts.Report
	err = scheduler.WithLock(ctx, locker, scheduler.JobAlerts, a.lockTTL(), func(ctx context.Context) error {
		var runErr error
		report, runErr = notifier.Run(ctx, detectors...)
		return runErr
	})
	return report, err
}

func printAlertReport(cmd *cobra.Command, report *alerts.Report) {
	out := cmd.OutOrStdout()
	if len(report.Emitted) > 0 {
		ui.RenderAlertTable(out, report.Emitted)
		fmt.Fprintln(out)
	}

	names := make([]string, 0, len(report.Rules))
	for name := range report.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := report.Rules[name]
		line := fmt.Sprintf("%-18s detected=%d emitted=%d suppressed=%d", name, s.Detected, s.Emitted, s.Suppressed)
		if s.Err != nil {
			line += " " + ui.ColorError("error: "+s.Err.Error())
		}
		fmt.Fprintln(out, line)
	}
}

func init() {
	alertsListCmd.Flags().IntP("limit", "n", 20, "Number of alerts to show")

	alertsCmd.AddCommand(alertsRunCmd)
	alertsCmd.AddCommand(alertsListCmd)
	rootCmd.AddCommand(alertsCmd)
}
