package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snowpulse/internal/schema"
	"snowpulse/internal/ui"
	"snowpulse/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest result of every check",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		out := cmd.OutOrStdout()

		missing, err := schema.MissingTables(ctx, db, schema.RequiredTables)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			ui.ShowWarning(fmt.Sprintf("Missing tables: %s. Run 'snowpulse migrate up'.", strings.Join(missing, ", ")))
			return nil
		}

		log, err := a.qualityLog(db)
		if err != nil {
			return err
		}
		latest, err := log.Latest(ctx)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			fmt.Fprintln(out, "No quality results recorded yet. Run 'snowpulse quality run'.")
			return nil
		}

		ui.RenderQualityTable(out, latest)
		counts := map[models.Status]int{}
		var last time.Time
		for _, r := range latest {
			counts[r.Status]++
			if r.CheckedAt.After(last) {
				last = r.CheckedAt
			}
		}
		fmt.Fprintf(out, "\n%s, last checked %s\n", ui.FormatCounts(counts), ui.FormatAge(last, time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
