package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
)

// ListServices returns services ordered by group then name.
func (c *Controller) ListServices(ctx echo.Context) error {
	svcs, err := c.store.Services().List(ctx.Request().Context(), parseLimit(ctx, DefaultListLimit))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, nonNil(svcs))
}

// CreateService returns the service for (name, group), creating it if needed.
func (c *Controller) CreateService(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return err
	}
	in, err := c.validator.ParseService(body)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	svc, _, err := c.upserter.ResolveService(ctx.Request().Context(), in.Name, in.Group)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, svc)
}

// ListUsers returns users, most recent first.
func (c *Controller) ListUsers(ctx echo.Context) error {
	users, err := c.store.Users().List(ctx.Request().Context(), parseLimit(ctx, DefaultListLimit))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, nonNil(users))
}

// CreateUser returns the user with the submitted email, creating it if needed.
func (c *Controller) CreateUser(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return err
	}
	in, err := c.validator.ParseUser(body)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	user, _, err := c.upserter.ResolveUser(ctx.Request().Context(), in)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, user)
}

// ListRules returns rules, most recent first.
func (c *Controller) ListRules(ctx echo.Context) error {
	rules, err := c.store.Rules().List(ctx.Request().Context(), parseLimit(ctx, DefaultListLimit))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, nonNil(rules))
}

// UpsertRule creates the rule for (user, service) or updates it in place.
func (c *Controller) UpsertRule(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return err
	}
	req, err := c.validator.ParseRule(body)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	rule, _, err := c.upserter.Upsert(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, rule)
}

// DeleteRule removes a rule by id.
func (c *Controller) DeleteRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err)
	}
	reqCtx := ctx.Request().Context()
	err = c.store.Transaction(reqCtx, func(tx *repository.Store) error {
		return tx.Rules().Delete(reqCtx, id)
	})
	if err != nil {
		return c.HandleError(ctx, err)
	}
	c.log.Info("notification rule deleted", logger.Uint64("rule_id", uint64(id)))
	return ctx.NoContent(http.StatusNoContent)
}

// MachineContact is one row of the by-machine listing.
type MachineContact struct {
	RuleID       uint    `json:"rule_id"`
	ServiceID    uint    `json:"service_id"`
	MinSeverity  string  `json:"min_severity"`
	DoEmail      bool    `json:"do_email"`
	DoHaloTicket bool    `json:"do_halo_ticket"`
	DoCall       bool    `json:"do_call"`
	UserID       uint    `json:"user_id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Role         string  `json:"role"`
	Email        string  `json:"email"`
	PhoneNumber  *string `json:"phone_number"`
}

// RulesByMachine lists the enabled rules of the service matching the
// machine query parameter, with contact details, ordered by last name then
// first name. An unknown machine yields an empty list.
func (c *Controller) RulesByMachine(ctx echo.Context) error {
	machine := strings.TrimSpace(ctx.QueryParam("machine"))
	if machine == "" {
		return c.HandleError(ctx, errors.Newf("machine query parameter is required").
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	reqCtx := ctx.Request().Context()
	svc, err := c.store.Services().FindByMachine(reqCtx, machine)
	if errors.Is(err, repository.ErrServiceNotFound) {
		return ctx.JSON(http.StatusOK, []MachineContact{})
	}
	if err != nil {
		return c.HandleError(ctx, err)
	}

	rules, err := c.store.Rules().ListContactsByService(reqCtx, svc.ID)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	out := make([]MachineContact, 0, len(rules))
	for i := range rules {
		out = append(out, contactFrom(&rules[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

func contactFrom(r *entities.NotificationRule) MachineContact {
	return MachineContact{
		RuleID:       r.ID,
		ServiceID:    r.ServiceID,
		MinSeverity:  r.MinSeverity,
		DoEmail:      r.DoEmail,
		DoHaloTicket: r.DoHaloTicket,
		DoCall:       r.DoCall,
		UserID:       r.UserID,
		FirstName:    r.User.FirstName,
		LastName:     r.User.LastName,
		Role:         r.User.Role,
		Email:        r.User.Email,
		PhoneNumber:  r.User.PhoneNumber,
	}
}
