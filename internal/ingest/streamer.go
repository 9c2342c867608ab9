package ingest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"snowpulse/internal/observability"
	"snowpulse/internal/store"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Metadata source tags written to RECORD_METADATA
const (
	SourceDailyBars  = "polygon_rest_daily_bars"
	SourceAggregates = "polygon_rest_aggs"
	SourceNews       = "polygon_rest_news"
)

// Fetcher is the upstream market-data API
type Fetcher interface {
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)
	PrevAggregates(ctx context.Context, ticker string) ([]Bar, error)
	News(ctx context.Context, tickers []string, limit int) ([]Bar, error)
}

// Appender writes raw records to a landing table
type Appender interface {
	Append(ctx context.Context, table string, records []models.RawRecord) error
}

// Streamer runs the backfill and the two polling loops
type Streamer struct {
	fetcher Fetcher
	sink    Appender
	tickers []string
	cfg     models.Ingest
	seen    *seenSet
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// StreamerOption configures a Streamer
type StreamerOption func(*Streamer)

func WithStreamerClock(now func() time.Time) StreamerOption {
	return func(s *Streamer) { s.now = now }
}

func WithStreamerLogger(logger *observability.Logger) StreamerOption {
	return func(s *Streamer) { s.logger = logger }
}

func WithStreamerMetrics(metrics *observability.Metrics) StreamerOption {
	return func(s *Streamer) { s.metrics = metrics }
}

func NewStreamer(fetcher Fetcher, sink Appender, tickers []string, cfg models.Ingest, opts ...StreamerOption) *Streamer {
	if cfg.AggregateInterval <= 0 {
		cfg.AggregateInterval = 60 * time.Second
	}
	if cfg.NewsInterval <= 0 {
		cfg.NewsInterval = 300 * time.Second
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = 30
	}
	s := &Streamer{
		fetcher: fetcher,
		sink:    sink,
		tickers: append([]string(nil), tickers...),
		cfg:     cfg,
		seen:    newSeenSet(seenLimit, seenRetain),
		now:     time.Now,
		logger:  observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "ingest")
	return s
}

// Run backfills daily bars once, then polls aggregates and news until ctx
// is cancelled. Poll errors are logged and retried on the next tick.
func (s *Streamer) Run(ctx context.Context) error {
	if len(s.tickers) == 0 {
		return errors.New(errors.ErrCodeConfigMissing, "No tickers configured for ingestion")
	}
	s.logger.WithFields(map[string]interface{}{
		"tickers":            s.tickers,
		"aggregate_interval": s.cfg.AggregateInterval.String(),
		"news_interval":      s.cfg.NewsInterval.String(),
	}).Info("Starting ingestion")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := s.Backfill(gctx); err != nil && gctx.Err() == nil {
			s.logger.WithError(err).Error("Backfill failed")
		}
		return nil
	})
	g.Go(func() error {
		return s.loop(gctx, "aggregates", s.cfg.AggregateInterval, s.PollAggregates)
	})
	g.Go(func() error {
		return s.loop(gctx, "news", s.cfg.NewsInterval, s.PollNews)
	})

	err := g.Wait()
	s.logger.Info("Ingestion stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

func (s *Streamer) loop(ctx context.Context, name string, every time.Duration, poll func(context.Context) (int, error)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := poll(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).WithField("poller", name).Error("Poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Backfill loads BackfillDays of daily bars per ticker into RAW_TRADES
func (s *Streamer) Backfill(ctx context.Context) (int, error) {
	to := s.now().UTC()
	from := to.AddDate(0, 0, -s.cfg.BackfillDays)

	return s.perTicker(ctx, store.RawTradesTable, SourceDailyBars, func(ctx context.Context, ticker string) ([]Bar, error) {
		return s.fetcher.DailyBars(ctx, ticker, from, to)
	})
}

// PollAggregates loads the previous-day bar per ticker into RAW_AGGREGATES
func (s *Streamer) PollAggregates(ctx context.Context) (int, error) {
	return s.perTicker(ctx, store.RawAggregatesTable, SourceAggregates, s.fetcher.PrevAggregates)
}

func (s *Streamer) perTicker(ctx context.Context, table, source string, fetch func(context.Context, string) ([]Bar, error)) (int, error) {
	var records []models.RawRecord
	for _, ticker := range s.tickers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		bars, err := fetch(ctx, ticker)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"ticker": ticker,
				"source": source,
			}).Warn("Fetch failed, skipping ticker")
			continue
		}
		for _, bar := range bars {
			bar["ticker"] = ticker
			records = append(records, s.record(bar, source, ticker))
		}
	}
	return s.append(ctx, table, source, records)
}

// PollNews loads unseen articles into RAW_NEWS
func (s *Streamer) PollNews(ctx context.Context) (int, error) {
	articles, err := s.fetcher.News(ctx, s.tickers, s.cfg.NewsLimit)
	if err != nil {
		return 0, err
	}

	var records []models.RawRecord
	for _, article := range articles {
		id, _ := article["id"].(string)
		if id == "" || !s.seen.Add(id) {
			continue
		}
		records = append(records, s.record(article, SourceNews, ""))
	}
	s.seen.Trim()

	return s.append(ctx, store.RawNewsTable, SourceNews, records)
}

func (s *Streamer) record(content Bar, source, ticker string) models.RawRecord {
	metadata := map[string]interface{}{
		"ingested_at": s.now().UTC().Format(time.RFC3339Nano),
		"source":      source,
	}
	if ticker != "" {
		metadata["ticker"] = ticker
	}
	return models.RawRecord{Content: content, Metadata: metadata}
}

func (s *Streamer) append(ctx context.Context, table, source string, records []models.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.sink.Append(ctx, table, records); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeRawAppend, fmt.Sprintf("Failed to append %d records", len(records))).
			WithContext("table", table)
	}
	s.metrics.RecordIngested(table, len(records))
	s.logger.WithFields(map[string]interface{}{
		"table":  table,
		"source": source,
		"rows":   len(records),
	}).Info("Ingested records")
	return len(records), nil
}
