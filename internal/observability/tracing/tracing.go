// Package tracing configures the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"net/url"
	"time"

	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by errintake packages.
const InstrumentationName = "github.com/tphakala/errintake"

// Config controls span export.
type Config struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	Version      string
	Environment  string
	Insecure     bool
	Timeout      time.Duration
	SamplingRate float64
}

// Validate checks an enabled configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var msg string
	switch {
	case c.Endpoint == "":
		msg = "tracing endpoint is required when tracing is enabled"
	case !hasHost(c.Endpoint):
		msg = "tracing endpoint must be a URL with a host, e.g. http://collector:4318"
	case c.ServiceName == "":
		msg = "tracing service name is required"
	case c.Timeout <= 0:
		msg = "tracing timeout must be positive"
	case c.SamplingRate < 0 || c.SamplingRate > 1:
		msg = "tracing sampling rate must be between 0 and 1"
	default:
		return nil
	}
	return errors.Newf("%s", msg).
		Component("tracing").
		Category(errors.CategoryConfiguration).
		Build()
}

func hasHost(endpoint string) bool {
	u, err := url.Parse(endpoint)
	return err == nil && u.Host != ""
}

// NewTracerProvider installs a global batching tracer provider exporting
// over OTLP/HTTP and returns its shutdown function. When tracing is
// disabled the global no-op provider is left in place.
func NewTracerProvider(ctx context.Context, cfg Config, log logger.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		log.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(cfg.Endpoint)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("tracing").
			Category(errors.CategoryConfiguration).
			Context("endpoint", cfg.Endpoint).
			Build()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized",
		logger.String("endpoint", cfg.Endpoint),
		logger.String("service_name", cfg.ServiceName))
	return tp.Shutdown, nil
}

// Tracer returns the errintake tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
