package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/usagedash/internal/aggregate"
	"github.com/alecgard/usagedash/internal/api"
	"github.com/alecgard/usagedash/internal/metrics"
	"github.com/alecgard/usagedash/internal/ratelimit"
	"github.com/alecgard/usagedash/internal/report"
	"github.com/alecgard/usagedash/internal/ui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server and the aggregation scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	a, err := newApp(ctx, m)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	var scheduler *aggregate.Scheduler
	if cfg.Aggregation.ScheduleInterval > 0 {
		scheduler = aggregate.NewScheduler(a.pipeline, a.clock, cfg.Aggregation.ScheduleInterval, cfg.Aggregation.RunTimeout)
		go scheduler.Start(ctx)
		slog.Info("aggregation scheduler started",
			"interval", cfg.Aggregation.ScheduleInterval.String(),
			"timezone", cfg.Aggregation.Timezone,
		)
	}

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
	stopCleanup := make(chan struct{})
	go limiter.RunCleanup(cfg.RateLimit.Window, stopCleanup)

	router := api.NewRouter(api.RouterDeps{
		Pipeline:       a.pipeline,
		Reports:        report.NewService(a.rows),
		Clock:          a.clock,
		Limiter:        limiter,
		Metrics:        m,
		DB:             a.pool,
		UI:             ui.Handler(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	close(stopCleanup)

	return srv.Shutdown(shutdownCtx)
}
