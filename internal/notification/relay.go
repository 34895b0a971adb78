package notification

import (
	"context"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
)

// RelayConfig lists the shoutrrr service URLs per action. An action with
// no URLs is skipped.
type RelayConfig struct {
	Email  []string
	Ticket []string
	Call   []string
}

// RelayNotifier forwards actions to shoutrrr services such as smtp://,
// ntfy:// or generic:// webhooks.
type RelayNotifier struct {
	senders map[string]*router.ServiceRouter
	log     logger.Logger
}

// NewRelayNotifier validates every URL and builds one sender per action.
func NewRelayNotifier(cfg RelayConfig, log logger.Logger) (*RelayNotifier, error) {
	r := &RelayNotifier{senders: make(map[string]*router.ServiceRouter), log: log}
	for action, urls := range map[string][]string{
		routing.ActionEmail:  cfg.Email,
		routing.ActionTicket: cfg.Ticket,
		routing.ActionCall:   cfg.Call,
	} {
		if len(urls) == 0 {
			continue
		}
		sender, err := shoutrrr.CreateSender(urls...)
		if err != nil {
			return nil, errors.New(fmt.Errorf("invalid %s relay URL: %w", action, err)).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Context("action", action).
				Build()
		}
		r.senders[action] = sender
	}
	return r, nil
}

func (r *RelayNotifier) Email(ctx context.Context, n routing.Notice) error {
	return r.send(ctx, routing.ActionEmail, n)
}

func (r *RelayNotifier) Ticket(ctx context.Context, n routing.Notice) error {
	return r.send(ctx, routing.ActionTicket, n)
}

func (r *RelayNotifier) Call(ctx context.Context, n routing.Notice) error {
	return r.send(ctx, routing.ActionCall, n)
}

func (r *RelayNotifier) send(ctx context.Context, action string, n routing.Notice) error {
	sender, ok := r.senders[action]
	if !ok {
		r.log.Debug("no relay configured for action", logger.String("action", action))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := Format(action, n)
	params := types.Params{}
	params.SetTitle(title)

	var errs []error
	for _, err := range sender.Send(body, &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New(fmt.Errorf("relay %s: %w", action, errors.Join(errs...))).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("action", action).
			Build()
	}
	return nil
}
