// Package sentry reports failures that never reach an HTTP caller, such as
// notification action errors, to Sentry.
package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tphakala/errintake/internal/errors"
)

// Config controls error reporting. An empty DSN disables it.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Debug       bool
}

// Reporter captures errors on its own hub. A nil *Reporter discards
// everything.
type Reporter struct {
	hub *sentry.Hub
}

// New creates a Reporter. It returns nil when cfg.DSN is empty.
func New(cfg Config) (*Reporter, error) {
	return newWithOptions(cfg, nil)
}

func newWithOptions(cfg Config, beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event) (*Reporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  sampleRate,
		Debug:       cfg.Debug,
		BeforeSend:  beforeSend,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("sentry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// CaptureError sends err with the given tags. Component and category of
// enhanced errors are added as tags and their context as extra data.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			scope.SetTag("component", ee.Component())
			scope.SetTag("category", string(ee.Category()))
			if ctx := ee.Context(); len(ctx) > 0 {
				scope.SetContext("error", sentry.Context(ctx))
			}
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
