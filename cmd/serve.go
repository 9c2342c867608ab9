package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"snowpulse/internal/api"
	"snowpulse/internal/observability"
	"snowpulse/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run quality checks and alerts on a schedule and serve the status API",
	Long: `Run the quality evaluation and alert notification jobs on their cron specs
and serve /healthz, /metrics and the /api status endpoints until SIGINT or
SIGTERM. Runs are single flight across every instance sharing the Redis
lock, or within this process when Redis is disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		noRunOnStart, _ := cmd.Flags().GetBool("no-run-on-start")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if addr == "" {
			addr = a.cfg.HTTP.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a, addr, a.cfg.Scheduler.RunOnStart && !noRunOnStart)
	},
}

// serve blocks until ctx is cancelled or the HTTP server fails
func serve(ctx context.Context, a *app, addr string, runOnStart bool) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	eval, err := a.evaluator(db)
	if err != nil {
		return err
	}
	notifier, detectors, err := a.notifier(ctx, db)
	if err != nil {
		return err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	qualityLog, err := a.qualityLog(db)
	if err != nil {
		return err
	}
	alertLog, err := a.alertLog(db)
	if err != nil {
		return err
	}

	sched := scheduler.New(locker, a.lockTTL(), a.logger)
	jobs := []scheduler.Job{
		{
			Name: scheduler.JobQuality,
			Spec: a.cfg.Scheduler.QualitySpec,
			Run: func(ctx context.Context) error {
				_, err := eval.Run(ctx)
				return err
			},
		},
		{
			Name: scheduler.JobAlerts,
			Spec: a.cfg.Scheduler.AlertsSpec,
			Run: func(ctx context.Context) error {
				_, err := notifier.Run(ctx, detectors...)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	health := observability.NewHealthManager(10*time.Second, a.logger)
	health.SetMetadata("version", Version)
	health.RegisterCheck(observability.NewPingHealthCheck("snowflake", 5*time.Second, a.warehouse.Ping))
	if a.redis != nil {
		health.RegisterCheck(observability.NewPingHealthCheck("redis", 2*time.Second, a.redis.Ping))
	}
	for _, job := range jobs {
		name := job.Name
		health.RegisterCheck(observability.NewStalenessHealthCheck(name+"_job", stalenessWindow(job.Spec), func() time.Time {
			return sched.LastSuccess(name)
		}))
	}

	server := api.NewServer(api.Deps{
		Quality: qualityLog,
		Alerts:  alertLog,
		Jobs:    sched,
		Health:  health,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	sched.Start(runOnStart)
	a.logger.WithField("addr", addr).Info("snowpulse serving")

	serveErr := server.ListenAndServe(ctx, addr)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		a.logger.WithError(err).Warn("Scheduler did not stop in time")
	}
	return serveErr
}

// stalenessWindow is two schedule intervals; a job that misses two ticks
// in a row is reported degraded.
func stalenessWindow(spec string) time.Duration {
	const fallback = 2 * time.Hour
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fallback
	}
	next := schedule.Next(time.Now())
	interval := schedule.Next(next).Sub(next)
	if interval <= 0 {
		return fallback
	}
	return 2 * interval
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (default http.addr)")
	serveCmd.Flags().Bool("no-run-on-start", false, "Wait for the first cron tick instead of running immediately")

	rootCmd.AddCommand(serveCmd)
}
