// Package api serves the errintake HTTP interface.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/intake"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/observability/metrics"
	"github.com/tphakala/errintake/internal/observability/sentry"
	"github.com/tphakala/errintake/internal/report"
	"github.com/tphakala/errintake/internal/routing"
)

// List limits.
const (
	DefaultErrorLimit = 50
	DefaultListLimit  = 200
	MaxListLimit      = 1000
)

const bodyLimit = "1M"

// Pinger reports database liveness for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Controller needs. Metrics, Reporter and
// Pinger are optional.
type Deps struct {
	Store     *repository.Store
	Validator *intake.Validator
	Resolver  *routing.Resolver
	Upserter  *routing.Upserter
	Report    *report.Generator
	Metrics   *metrics.Metrics
	Reporter  *sentry.Reporter
	Pinger    Pinger
	Logger    logger.Logger

	// MetricsPath mounts the prometheus handler when non-empty.
	MetricsPath string
	CORSOrigins []string
}

// Controller owns the echo instance and the handlers.
type Controller struct {
	Echo *echo.Echo

	store     *repository.Store
	validator *intake.Validator
	resolver  *routing.Resolver
	upserter  *routing.Upserter
	report    *report.Generator
	metrics   *metrics.Metrics
	reporter  *sentry.Reporter
	pinger    Pinger
	log       logger.Logger
}

// New builds a Controller with middleware and routes registered.
func New(d Deps) (*Controller, error) {
	if d.Store == nil || d.Validator == nil || d.Resolver == nil || d.Upserter == nil || d.Report == nil {
		return nil, errors.Newf("api controller is missing a required dependency").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	c := &Controller{
		Echo:      e,
		store:     d.Store,
		validator: d.Validator,
		resolver:  d.Resolver,
		upserter:  d.Upserter,
		report:    d.Report,
		metrics:   d.Metrics,
		reporter:  d.Reporter,
		pinger:    d.Pinger,
		log:       log.With(logger.String("component", "api")),
	}
	e.HTTPErrorHandler = c.httpErrorHandler

	c.initMiddleware(d.CORSOrigins)
	c.initRoutes()
	if d.MetricsPath != "" && d.Metrics != nil {
		e.GET(d.MetricsPath, echo.WrapHandler(d.Metrics.Handler()))
	}
	return c, nil
}

func (c *Controller) initMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.Echo.Use(
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Generator: uuid.NewString,
		}),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:    true,
			LogURI:       true,
			LogRoutePath: true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogRemoteIP:  true,
			LogError:     true,
			HandleError:  true,
			LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
				c.logRequest(v)
				return nil
			},
		}),
		middleware.Recover(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		}),
		middleware.BodyLimit(bodyLimit),
	)
}

func (c *Controller) logRequest(v middleware.RequestLoggerValues) {
	route := v.RoutePath
	if route == "" {
		route = "unmatched"
	}
	c.metrics.ObserveHTTP(v.Method, route, v.Status, v.Latency)

	fields := []logger.Field{
		logger.String("request_id", v.RequestID),
		logger.String("method", v.Method),
		logger.String("uri", v.URI),
		logger.Int("status", v.Status),
		logger.Duration("latency", v.Latency),
		logger.String("remote_ip", v.RemoteIP),
	}
	switch {
	case v.Status >= http.StatusInternalServerError:
		if v.Error != nil {
			fields = append(fields, logger.Error(v.Error))
		}
		c.log.Error("request failed", fields...)
	case v.Status >= http.StatusBadRequest:
		c.log.Warn("request rejected", fields...)
	default:
		c.log.Debug("request served", fields...)
	}
}

func (c *Controller) initRoutes() {
	e := c.Echo
	e.GET("/health", c.Health)

	e.POST("/errors", c.CreateError)
	e.GET("/errors", c.ListErrors)
	e.DELETE("/errors", c.DeleteErrors)

	e.GET("/services", c.ListServices)
	e.POST("/services", c.CreateService)

	e.GET("/users", c.ListUsers)
	e.POST("/users", c.CreateUser)

	e.GET("/rules", c.ListRules)
	e.POST("/rules", c.UpsertRule)
	e.GET("/rules/by-machine", c.RulesByMachine)
	e.DELETE("/rules/:id", c.DeleteRule)

	e.GET("/report/health.pdf", c.HealthReport)
}

// Health reports liveness, including the database when a Pinger is set.
func (c *Controller) Health(ctx echo.Context) error {
	if c.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), 2*time.Second)
		defer cancel()
		if err := c.pinger.Ping(pingCtx); err != nil {
			c.log.Warn("health check failed", logger.Error(err))
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleError writes the error body for err with a status derived from its
// category. Internal failures are logged and reported; their detail is not
// returned to the caller.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	status, msg := c.statusFor(err)
	if status >= http.StatusInternalServerError {
		c.log.Error("request handler failed",
			logger.String("method", ctx.Request().Method),
			logger.String("route", ctx.Path()),
			logger.Error(err))
		c.reporter.CaptureError(err, map[string]string{"route": ctx.Path()})
	}
	return ctx.JSON(status, map[string]string{"error": msg})
}

func (c *Controller) statusFor(err error) (int, string) {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest, err.Error()
	case errors.CategoryNotFound:
		return http.StatusNotFound, err.Error()
	case errors.CategoryConflict:
		return http.StatusConflict, "conflicting concurrent write, retry the request"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// httpErrorHandler renders echo's own errors (404 routes, 405, body
// limit) in the same body shape as handler errors.
func (c *Controller) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		if ctx.Request().Method == http.MethodHead {
			_ = ctx.NoContent(he.Code)
			return
		}
		_ = ctx.JSON(he.Code, map[string]string{"error": msg})
		return
	}
	_ = c.HandleError(ctx, err)
}

// readBody returns the request body. Bodies over the limit surface as 413.
func readBody(ctx echo.Context) ([]byte, error) {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	return body, nil
}

// parseLimit reads the limit query parameter. Missing, unparsable and
// non-positive values fall back to def; larger values are capped.
func parseLimit(ctx echo.Context, def int) int {
	n, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, MaxListLimit)
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Newf("invalid %s %q", name, ctx.Param(name)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(v), nil
}
