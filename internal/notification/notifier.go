// Package notification provides the Notifier implementations behind the
// email, ticket and call actions of a notification rule.
package notification

import (
	"context"
	"fmt"

	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
)

// Format renders the title and body used for a notice.
func Format(action string, n routing.Notice) (title, body string) {
	title = fmt.Sprintf("[%s] %s: %s", n.Severity, n.ServiceName, action)
	body = fmt.Sprintf("%s\n\nservice: %s\nseverity: %s\nerror id: %d\nuser id: %d",
		n.Message, n.ServiceName, n.Severity, n.ErrorID, n.UserID)
	return title, body
}

// LogNotifier records each action in the log and delivers nothing.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Email(_ context.Context, n routing.Notice) error {
	l.emit(routing.ActionEmail, n)
	return nil
}

func (l *LogNotifier) Ticket(_ context.Context, n routing.Notice) error {
	l.emit(routing.ActionTicket, n)
	return nil
}

func (l *LogNotifier) Call(_ context.Context, n routing.Notice) error {
	l.emit(routing.ActionCall, n)
	return nil
}

func (l *LogNotifier) emit(action string, n routing.Notice) {
	l.log.Info("notification action",
		logger.String("action", action),
		logger.Uint64("user_id", uint64(n.UserID)),
		logger.String("service", n.ServiceName),
		logger.String("severity", n.Severity),
		logger.Uint64("error_id", uint64(n.ErrorID)),
		logger.String("message", n.Message))
}

// MultiNotifier fans every action out to several notifiers. All notifiers
// are called; their errors are joined.
type MultiNotifier []routing.Notifier

func (m MultiNotifier) Email(ctx context.Context, n routing.Notice) error {
	return m.each(func(x routing.Notifier) error { return x.Email(ctx, n) })
}

func (m MultiNotifier) Ticket(ctx context.Context, n routing.Notice) error {
	return m.each(func(x routing.Notifier) error { return x.Ticket(ctx, n) })
}

func (m MultiNotifier) Call(ctx context.Context, n routing.Notice) error {
	return m.each(func(x routing.Notifier) error { return x.Call(ctx, n) })
}

func (m MultiNotifier) each(fn func(routing.Notifier) error) error {
	var errs []error
	for _, x := range m {
		if err := fn(x); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
