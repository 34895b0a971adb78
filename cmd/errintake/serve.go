package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	api "github.com/tphakala/errintake/internal/api/v1"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/intake"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/observability/metrics"
	"github.com/tphakala/errintake/internal/observability/sentry"
	"github.com/tphakala/errintake/internal/observability/tracing"
	"github.com/tphakala/errintake/internal/report"
	"github.com/tphakala/errintake/internal/routing"
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configFile)
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	settings, log, err := bootstrap(configFile)
	if err != nil {
		return err
	}

	mgr, err := openDatabase(ctx, settings, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn("failed to close database", logger.Error(err))
		}
	}()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.NewTracerProvider(ctx, tracing.Config{
		Enabled:      settings.Tracing.Enabled,
		Endpoint:     settings.Tracing.Endpoint,
		ServiceName:  "errintake",
		Version:      version,
		Environment:  settings.Tracing.Environment,
		Insecure:     settings.Tracing.Insecure,
		Timeout:      settings.Tracing.Timeout.Std(),
		SamplingRate: settings.Tracing.SamplingRate,
	}, log)
	if err != nil {
		return err
	}

	reporter, err := sentry.New(sentry.Config{
		DSN:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Release:     "errintake@" + version,
		SampleRate:  settings.Sentry.SampleRate,
		Debug:       settings.Sentry.Debug,
	})
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	notifier, err := buildNotifier(settings, log)
	if err != nil {
		return err
	}
	validator, err := intake.NewValidator()
	if err != nil {
		return err
	}

	store := mgr.Store()
	dispatcher := routing.NewDispatcher(notifier, log, m, reporter)
	deps := api.Deps{
		Store:       store,
		Validator:   validator,
		Resolver:    routing.NewResolver(store.Services(), store.Rules(), dispatcher, log, m),
		Upserter:    routing.NewUpserter(store, log, m),
		Report:      report.NewGenerator(store.Errors(), settings.ReportCacheTTL(), log),
		Metrics:     m,
		Reporter:    reporter,
		Pinger:      mgr,
		Logger:      log,
		CORSOrigins: settings.Server.CORSOrigins,
	}
	if settings.Metrics.Enabled {
		deps.MetricsPath = settings.Metrics.Path
	}
	ctrl, err := api.New(deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.Server.Listen,
		Handler:           ctrl.Echo,
		ReadTimeout:       settings.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      settings.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			logger.String("addr", srv.Addr),
			logger.String("dialect", mgr.Dialect()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", logger.Error(err))
	}
	log.Info("http server stopped")
	return nil
}
