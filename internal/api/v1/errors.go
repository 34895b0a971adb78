package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
)

// CreateError stores an error record and resolves its notification rules.
// Once the record is committed the response is 201 whatever the
// resolution outcome.
func (c *Controller) CreateError(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return err
	}
	rec, err := c.validator.ParseError(body)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	reqCtx := ctx.Request().Context()
	err = c.store.Transaction(reqCtx, func(tx *repository.Store) error {
		return tx.Errors().Create(reqCtx, rec)
	})
	if err != nil {
		return c.HandleError(ctx, err)
	}
	c.report.Invalidate()
	c.metrics.RecordIngest(rec.Severity)

	c.resolve(context.WithoutCancel(reqCtx), rec)
	return ctx.JSON(http.StatusCreated, rec)
}

// resolve runs rule resolution for a stored record. Failures are logged and
// reported, never returned.
func (c *Controller) resolve(ctx context.Context, rec *entities.ErrorRecord) {
	out, err := c.resolver.Resolve(ctx, routing.Incident{
		ErrorID:  rec.ID,
		Machine:  rec.Machine,
		Severity: rec.Severity,
		Message:  rec.Message,
	})
	if err != nil {
		c.log.Error("rule resolution failed",
			logger.Uint64("error_id", uint64(rec.ID)),
			logger.String("machine", rec.Machine),
			logger.Error(err))
		c.reporter.CaptureError(err, map[string]string{"machine": rec.Machine})
		return
	}
	c.log.Debug("rule resolution finished",
		logger.Uint64("error_id", uint64(rec.ID)),
		logger.String("outcome", out.Status),
		logger.Int("fired", len(out.Fired)))
}

// ListErrors returns the most recent error records, newest first.
func (c *Controller) ListErrors(ctx echo.Context) error {
	limit := parseLimit(ctx, DefaultErrorLimit)
	recs, err := c.store.Errors().ListRecent(ctx.Request().Context(), limit)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, nonNil(recs))
}

// DeleteErrors removes every stored error record.
func (c *Controller) DeleteErrors(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	var deleted int64
	err := c.store.Transaction(reqCtx, func(tx *repository.Store) error {
		n, err := tx.Errors().DeleteAll(reqCtx)
		deleted = n
		return err
	})
	if err != nil {
		return c.HandleError(ctx, err)
	}
	c.report.Invalidate()
	c.log.Info("error records deleted", logger.Int64("count", deleted))
	return ctx.NoContent(http.StatusNoContent)
}

// HealthReport serves the health PDF as an attachment.
func (c *Controller) HealthReport(ctx echo.Context) error {
	pdf, err := c.report.HealthPDF(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err)
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="health.pdf"`)
	return ctx.Blob(http.StatusOK, "application/pdf", pdf)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
