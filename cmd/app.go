package cmd

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"snowpulse/internal/alerts"
	"snowpulse/internal/cache"
	"snowpulse/internal/observability"
	"snowpulse/internal/quality"
	"snowpulse/internal/scheduler"
	"snowpulse/internal/snowflake"
	"snowpulse/internal/store"
	"snowpulse/pkg/models"
)

// app holds what every command builds from the loaded configuration
type app struct {
	cfg       *models.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	warehouse *snowflake.Service
	redis     *cache.RedisStore
}

// openWarehouse connects to Snowflake; tests swap it for a sqlmock pool.
var openWarehouse = func(ctx context.Context, cfg models.Snowflake, logger *observability.Logger) (*snowflake.Service, error) {
	sfCfg, err := snowflake.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	svc := snowflake.NewService(sfCfg, logger)
	if err := svc.Connect(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(observability.LoggerConfigFrom(cfg.Logging))
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger.WithField("command", cmd.CommandPath()),
		metrics: observability.NewMetrics(),
	}, nil
}

func (a *app) db(ctx context.Context) (*sql.DB, error) {
	if a.warehouse == nil {
		svc, err := openWarehouse(ctx, a.cfg.Snowflake, a.logger)
		if err != nil {
			return nil, err
		}
		a.warehouse = svc
	}
	return a.warehouse.DB(), nil
}

// redisStore connects on first use; nil when Redis is disabled.
func (a *app) redisStore(ctx context.Context) (*cache.RedisStore, error) {
	if !a.cfg.Redis.Enabled {
		return nil, nil
	}
	if a.redis == nil {
		r, err := cache.NewRedisStore(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = r
	}
	return a.redis, nil
}

// locker is the Redis run lock when configured, otherwise in-process.
func (a *app) locker(ctx context.Context) (scheduler.Locker, error) {
	r, err := a.redisStore(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return cache.NewLocalLocker(), nil
	}
	return r, nil
}

// oneShotLocker is the locker for 'quality run' and 'alerts run'. Without
// Redis the lock only covers this process, so runs started by an external
// scheduler can overlap and append a quality run twice.
func (a *app) oneShotLocker(ctx context.Context) (scheduler.Locker, error) {
	if !a.cfg.Redis.Enabled {
		a.logger.Warn("Redis is disabled, the run lock does not span processes; enable redis when an external scheduler triggers runs")
	}
	return a.locker(ctx)
}

func (a *app) lockTTL() time.Duration {
	if a.cfg.Scheduler.LockTTL > 0 {
		return a.cfg.Scheduler.LockTTL
	}
	return scheduler.DefaultLockTTL
}

func (a *app) qualityLog(db *sql.DB) (*store.QualityLog, error) {
	table := a.cfg.Quality.LogTable
	if table == "" {
		table = store.DefaultQualityLogTable
	}
	return store.NewQualityLog(db, table)
}

func (a *app) alertLog(db *sql.DB) (*store.AlertLog, error) {
	table := a.cfg.Alerts.Table
	if table == "" {
		table = store.DefaultAlertLogTable
	}
	return store.NewAlertLog(db, table)
}

func (a *app) evaluator(db *sql.DB) (*quality.Evaluator, error) {
	checks, err := quality.FromConfig(a.cfg.Quality)
	if err != nil {
		return nil, err
	}
	results, err := a.qualityLog(db)
	if err != nil {
		return nil, err
	}
	marks, err := store.NewWatermarks(db, store.DefaultWatermarkTable)
	if err != nil {
		return nil, err
	}
	return quality.NewEvaluator(checks, store.NewSource(db), results, marks,
		quality.WithRetention(a.cfg.Quality.Retention),
		quality.WithLogger(a.logger),
		quality.WithMetrics(a.metrics),
	)
}

// notifier returns the notifier and the detectors it runs. The Redis key
// set fronts the alert log when Redis is enabled.
func (a *app) notifier(ctx context.Context, db *sql.DB) (*alerts.Notifier, []alerts.Detector, error) {
	sink, err := a.alertLog(db)
	if err != nil {
		return nil, nil, err
	}
	failures, err := a.qualityLog(db)
	if err != nil {
		return nil, nil, err
	}

	opts := []alerts.Option{alerts.WithLogger(a.logger), alerts.WithMetrics(a.metrics)}
	r, err := a.redisStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if r != nil {
		opts = append(opts, alerts.WithDeduper(r))
	}

	detectors := alerts.RulesFromConfig(a.cfg.Alerts, failures, store.NewMarket(db))
	return alerts.NewNotifier(sink, opts...), detectors, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if a.warehouse != nil {
		if err := a.warehouse.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Snowflake connection")
		}
	}
}
