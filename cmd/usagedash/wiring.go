package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecgard/usagedash/internal/aggregate"
	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/config"
	"github.com/alecgard/usagedash/internal/logstore"
	"github.com/alecgard/usagedash/internal/metering"
	"github.com/alecgard/usagedash/internal/metrics"
	"github.com/alecgard/usagedash/internal/usage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app bundles the long-lived components shared by serve and aggregate.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	clock    *calendar.Clock
	rows     *metering.Store
	pipeline *aggregate.Pipeline
}

func setupLogger() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
}

// newApp loads configuration, connects to the database and assembles the
// aggregation pipeline. m may be nil.
func newApp(ctx context.Context, m *metrics.Metrics) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("connected to database")

	client, err := usage.NewOpenAIClient(usage.OpenAIConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.Aggregation.Concurrency,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	lookup := usage.NewRetrying(client, usage.RetryConfig{
		MaxRetries:   cfg.OpenAI.MaxRetries,
		InitialDelay: cfg.OpenAI.RetryBackoff,
	})

	rows := metering.NewStore(pool)
	pipeline := aggregate.NewPipeline(logstore.NewStore(pool), lookup, rows, aggregate.Options{
		Concurrency:   cfg.Aggregation.Concurrency,
		Location:      loc,
		Model:         cfg.Aggregation.Model,
		WriteZeroRows: cfg.Aggregation.WriteZeroRows,
	})

	if m != nil {
		pipeline.SetMetrics(m)
		lookup.OnRetry(m.IncLookupRetry)
		m.RegisterDBPoolCollector(func() metrics.DBPoolStats {
			s := pool.Stat()
			return metrics.DBPoolStats{
				Total:         s.TotalConns(),
				Idle:          s.IdleConns(),
				Acquired:      s.AcquiredConns(),
				Max:           s.MaxConns(),
				EmptyAcquires: s.EmptyAcquireCount(),
			}
		})
	}

	return &app{
		cfg:      cfg,
		pool:     pool,
		clock:    calendar.NewClock(loc),
		rows:     rows,
		pipeline: pipeline,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
