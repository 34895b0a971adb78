package routing

import (
	"context"
	"fmt"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/observability/metrics"
	"github.com/tphakala/errintake/internal/observability/sentry"
)

// Notice is the fixed argument set passed to every notification action.
type Notice struct {
	UserID      uint
	ServiceName string
	Severity    string
	Message     string
	ErrorID     uint
}

// Notifier performs the side effect behind each action flag. Returned
// errors are logged and counted; they never stop other actions.
type Notifier interface {
	Email(ctx context.Context, n Notice) error
	Ticket(ctx context.Context, n Notice) error
	Call(ctx context.Context, n Notice) error
}

// ActionResult records the outcome of one action.
type ActionResult struct {
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the action completed.
func (r ActionResult) OK() bool {
	return r.Error == ""
}

// Dispatcher runs the enabled actions of a rule against a Notifier.
type Dispatcher struct {
	notifier Notifier
	log      logger.Logger
	metrics  *metrics.Metrics
	reporter *sentry.Reporter
}

// NewDispatcher creates a Dispatcher. m and reporter may be nil.
func NewDispatcher(notifier Notifier, log logger.Logger, m *metrics.Metrics, reporter *sentry.Reporter) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		log:      log,
		metrics:  m,
		reporter: reporter,
	}
}

// Dispatch invokes email, ticket and call, in that order, for each flag
// enabled on rule.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *entities.NotificationRule, notice Notice) []ActionResult {
	type step struct {
		name    string
		enabled bool
		fn      func(context.Context, Notice) error
	}
	steps := []step{
		{ActionEmail, rule.DoEmail, d.notifier.Email},
		{ActionTicket, rule.DoHaloTicket, d.notifier.Ticket},
		{ActionCall, rule.DoCall, d.notifier.Call},
	}

	results := make([]ActionResult, 0, len(steps))
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		err := d.safeCall(ctx, s.name, s.fn, notice)
		d.metrics.RecordAction(s.name, err)

		result := ActionResult{Action: s.name}
		if err != nil {
			result.Error = err.Error()
			d.log.Error("notification action failed",
				logger.String("action", s.name),
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Uint64("user_id", uint64(notice.UserID)),
				logger.Uint64("error_id", uint64(notice.ErrorID)),
				logger.Error(err))
			d.reporter.CaptureError(err, map[string]string{
				"action":  s.name,
				"service": notice.ServiceName,
			})
		}
		results = append(results, result)
	}
	return results
}

// safeCall invokes an action with panic recovery so a misbehaving notifier
// cannot abort the remaining actions or the request.
func (d *Dispatcher) safeCall(ctx context.Context, action string, fn func(context.Context, Notice) error, notice Notice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("notification action panicked: %v", r).
				Component(component).
				Category(errors.CategoryNotification).
				Context("action", action).
				Build()
		}
	}()
	if err := fn(ctx, notice); err != nil {
		return errors.New(fmt.Errorf("%s action: %w", action, err)).
			Component(component).
			Category(errors.CategoryNotification).
			Context("action", action).
			Build()
	}
	return nil
}
