package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snowpulse/internal/ingest"
	"snowpulse/internal/store"
	"snowpulse/internal/ui"
	"snowpulse/pkg/errors"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Poll Polygon.io and append market data to the RAW tables",
	Long: `Backfill daily bars once, then poll previous-day aggregates and news on
their intervals, appending every response row to RAW.RAW_TRADES,
RAW.RAW_AGGREGATES and RAW.RAW_NEWS. Requests share one rate limit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if a.cfg.Ingest.APIKey == "" {
			return errors.ConfigError("ingest.api_key is required", "ingest.api_key")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := a.db(ctx)
		if err != nil {
			return err
		}
		streamer := ingest.NewStreamer(
			ingest.NewClient(a.cfg.Ingest),
			store.NewRawWriter(db),
			a.cfg.Quality.Tickers,
			a.cfg.Ingest,
			ingest.WithStreamerLogger(a.logger),
			ingest.WithStreamerMetrics(a.metrics),
		)

		if once {
			return ingestOnce(ctx, cmd, streamer)
		}
		return streamer.Run(ctx)
	},
}

// ingestOnce runs each poller a single time and reports the row counts
func ingestOnce(ctx context.Context, cmd *cobra.Command, s *ingest.Streamer) error {
	steps := []struct {
		table string
		run   func(context.Context) (int, error)
	}{
		{store.RawTradesTable, s.Backfill},
		{store.RawAggregatesTable, s.PollAggregates},
		{store.RawNewsTable, s.PollNews},
	}

	out := cmd.OutOrStdout()
	for _, step := range steps {
		n, err := step.run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %-22s %d rows\n", ui.ColorSuccess("✓"), step.table, n)
	}
	return nil
}

func init() {
	ingestCmd.Flags().Bool("once", false, "Backfill and poll each endpoint once, then exit")

	rootCmd.AddCommand(ingestCmd)
}
