package main

import (
	"context"
	"fmt"

	"github.com/tphakala/errintake/internal/conf"
	"github.com/tphakala/errintake/internal/datastore"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/notification"
	"github.com/tphakala/errintake/internal/routing"
)

// bootstrap loads settings and builds the logger shared by every command.
func bootstrap(configFile string) (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	w, err := logger.NewWriter(settings.LogFileConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}
	log := logger.NewSlogLogger(w, logger.ParseLevel(settings.Log.Level), nil).
		With(logger.String("service", "errintake"), logger.String("version", version))
	return settings, log, nil
}

// openDatabase opens and migrates the configured database.
func openDatabase(ctx context.Context, settings *conf.Settings, log logger.Logger) (*datastore.Manager, error) {
	mgr, err := datastore.NewManager(settings.DatastoreConfig(), log)
	if err != nil {
		return nil, err
	}
	if err := mgr.Migrate(ctx); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}

// buildNotifier returns the log stub, fanned out to the shoutrrr relay when
// enabled.
func buildNotifier(settings *conf.Settings, log logger.Logger) (routing.Notifier, error) {
	logNotifier := notification.NewLogNotifier(log)
	if !settings.Notify.Relay {
		return logNotifier, nil
	}
	relay, err := notification.NewRelayNotifier(notification.RelayConfig{
		Email:  settings.Notify.EmailURLs,
		Ticket: settings.Notify.TicketURLs,
		Call:   settings.Notify.CallURLs,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info("notification relay enabled",
		logger.Int("email_urls", len(settings.Notify.EmailURLs)),
		logger.Int("ticket_urls", len(settings.Notify.TicketURLs)),
		logger.Int("call_urls", len(settings.Notify.CallURLs)))
	return notification.MultiNotifier{logNotifier, relay}, nil
}
