package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"snowpulse/internal/quality"
	"snowpulse/internal/scheduler"
	"snowpulse/internal/ui"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Run and inspect data-quality checks",
}

var qualityRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the check battery once and record the results",
	Long: `Evaluate every configured check against the warehouse, append one row per
check to the quality log, advance volume watermarks and prune rows older
than the retention period. Only one run proceeds at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		report, err := runQuality(ctx, a)
		if report != nil {
			out := cmd.OutOrStdout()
			ui.RenderQualityTable(out, report.Results)
			fmt.Fprintf(out, "\nRun %s: %s (pruned %d)\n", report.RunID, ui.FormatCounts(report.Counts()), report.Pruned)
		}
		if err != nil {
			return err
		}
		if strict && report.Failed() {
			return errors.New(errors.ErrCodeCheckFailed, fmt.Sprintf("%d checks failed", report.Counts()[models.StatusFail])).
				WithSeverity(errors.SeverityWarning)
		}
		return nil
	},
}

var qualityChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List the configured check battery",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		checks, err := quality.FromConfig(cfg.Quality)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, c := range checks {
			fmt.Fprintf(out, "%-14s %-26s %s\n", c.Name, c.Dataset, describeCheck(c))
		}
		return nil
	},
}

// runQuality evaluates the battery under the quality run lock
func runQuality(ctx context.Context, a *app) (*quality.RunReport, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	eval, err := a.evaluator(db)
	if err != nil {
		return nil, err
	}
	locker, err := a.oneShotLocker(ctx)
	if err != nil {
		return nil, err
	}

	spinner := ui.NewSpinner(fmt.Sprintf("Running %d quality checks", len(eval.Checks())))
	spinner.Start()

	var report *quality.RunReport
	err = scheduler.WithLock(ctx, locker, scheduler.JobQuality, a.lockTTL(), func(ctx context.Context) error {
		var runErr error
		report, runErr = eval.Run(ctx)
		return runErr
	})
	if err != nil {
		spinner.Stop(false, "Quality run failed")
	} else {
		spinner.Stop(true, "Quality run finished")
	}
	return report, err
}

func describeCheck(c quality.Check) string {
	var parts []string
	if c.Column != "" {
		parts = append(parts, "column="+c.Column)
	}
	if c.Threshold > 0 {
		parts = append(parts, fmt.Sprintf("threshold=%g", c.Threshold))
	}
	if len(c.Expected) > 0 {
		parts = append(parts, "expected="+strings.Join(c.Expected, ","))
	}
	if c.Predicate != "" {
		parts = append(parts, "predicate="+c.Predicate)
	}
	if len(c.Key) > 0 {
		parts = append(parts, "key="+strings.Join(c.Key, ","))
	}
	return strings.Join(parts, " ")
}

func init() {
	qualityRunCmd.Flags().Bool("strict", false, "Exit non-zero when any check fails")

	qualityCmd.AddCommand(qualityRunCmd)
	qualityCmd.AddCommand(qualityChecksCmd)
	rootCmd.AddCommand(qualityCmd)
}
