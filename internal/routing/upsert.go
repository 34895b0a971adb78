package routing

import (
	"context"
	"strings"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/observability/metrics"
	"github.com/tphakala/errintake/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UserInput describes a user to resolve or create by email.
type UserInput struct {
	FirstName   string  `json:"first_name" yaml:"first_name"`
	LastName    string  `json:"last_name" yaml:"last_name"`
	Role        string  `json:"role" yaml:"role"`
	Email       string  `json:"email" yaml:"email"`
	PhoneNumber *string `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
}

// RuleRequest creates or updates the rule for a (user, service) pair.
// Either UserID or User must be set; when both are set and UserID does not
// exist, User is used to resolve or create the user by email.
type RuleRequest struct {
	UserID       *uint      `json:"user_id,omitempty"`
	User         *UserInput `json:"user,omitempty"`
	ServiceID    uint       `json:"service_id"`
	MinSeverity  string     `json:"min_severity,omitempty"`
	Enabled      *bool      `json:"enabled,omitempty"`
	DoEmail      bool       `json:"do_email"`
	DoHaloTicket bool       `json:"do_halo_ticket"`
	DoCall       bool       `json:"do_call"`
}

// Upserter implements the idempotent write paths for users, services and
// notification rules.
type Upserter struct {
	store   *repository.Store
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewUpserter creates an Upserter. m may be nil.
func NewUpserter(store *repository.Store, log logger.Logger, m *metrics.Metrics) *Upserter {
	return &Upserter{store: store, log: log, metrics: m}
}

// Upsert resolves the user, validates the service and then updates the
// existing rule for the pair in place or creates a new one, all in one
// transaction. The bool result reports whether a rule was created.
//
// Two concurrent upserts for a new pair can both miss the lookup; the loser
// fails the (user_id, service_id) unique index and gets an error wrapping
// repository.ErrConflict, which callers may retry.
func (u *Upserter) Upsert(ctx context.Context, req RuleRequest) (*entities.NotificationRule, bool, error) {
	ctx, span := tracing.Tracer().Start(ctx, "routing.Upsert")
	defer span.End()

	severity := NormalizeSeverity(req.MinSeverity)
	if !IsValidSeverity(severity) {
		return nil, false, u.reject(invalid("min_severity must be one of INFO, WARN, ERROR, CRITICAL").
			Context("min_severity", req.MinSeverity).Build())
	}
	if req.ServiceID == 0 {
		return nil, false, u.reject(invalid("service_id is required").Build())
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var (
		ruleID  uint
		created bool
	)
	err := u.store.Transaction(ctx, func(tx *repository.Store) error {
		user, err := u.resolveRuleUser(ctx, tx, req)
		if err != nil {
			return err
		}
		if _, err := tx.Services().Get(ctx, req.ServiceID); err != nil {
			if errors.Is(err, repository.ErrServiceNotFound) {
				return invalid("unknown service_id").Context("service_id", req.ServiceID).Build()
			}
			return err
		}

		rule, err := tx.Rules().FindByUserService(ctx, user.ID, req.ServiceID)
		switch {
		case err == nil:
			rule.MinSeverity = severity
			rule.Enabled = enabled
			rule.DoEmail = req.DoEmail
			rule.DoHaloTicket = req.DoHaloTicket
			rule.DoCall = req.DoCall
			if err := tx.Rules().UpdateSettings(ctx, rule); err != nil {
				return err
			}
			ruleID = rule.ID
			return nil
		case errors.Is(err, repository.ErrRuleNotFound):
			rule = &entities.NotificationRule{
				UserID:       user.ID,
				ServiceID:    req.ServiceID,
				MinSeverity:  severity,
				Enabled:      enabled,
				DoEmail:      req.DoEmail,
				DoHaloTicket: req.DoHaloTicket,
				DoCall:       req.DoCall,
			}
			if err := tx.Rules().Create(ctx, rule); err != nil {
				return err
			}
			ruleID, created = rule.ID, true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, u.reject(err)
	}

	// Read back after commit for generated fields and associations.
	rule, err := u.store.Rules().Get(ctx, ruleID)
	if err != nil {
		return nil, false, err
	}

	result := upsertUpdated
	if created {
		result = upsertCreated
	}
	u.metrics.RecordUpsert(result)
	span.SetAttributes(
		attribute.Int64("errintake.rule_id", int64(rule.ID)),
		attribute.Bool("errintake.created", created))
	u.log.Info("notification rule upserted",
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.Uint64("user_id", uint64(rule.UserID)),
		logger.Uint64("service_id", uint64(rule.ServiceID)),
		logger.String("min_severity", rule.MinSeverity),
		logger.Bool("created", created))
	return rule, created, nil
}

// resolveRuleUser applies the user reference rules of a RuleRequest.
func (u *Upserter) resolveRuleUser(ctx context.Context, tx *repository.Store, req RuleRequest) (*entities.User, error) {
	if req.UserID == nil {
		if req.User == nil {
			return nil, invalid("user_id or user payload is required").Build()
		}
		user, _, err := findOrCreateUser(ctx, tx, *req.User)
		return user, err
	}

	user, err := tx.Users().Get(ctx, *req.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if req.User == nil {
		return nil, invalid("unknown user, no payload to auto-create").
			Context("user_id", *req.UserID).Build()
	}
	user, _, err = findOrCreateUser(ctx, tx, *req.User)
	return user, err
}

// ResolveUser returns the user with the input's email, creating it when
// absent. A concurrent insert of the same email resolves to the winner.
func (u *Upserter) ResolveUser(ctx context.Context, in UserInput) (*entities.User, bool, error) {
	user, created, err := findOrCreateUser(ctx, u.store, in)
	if errors.Is(err, repository.ErrConflict) {
		user, err = u.store.Users().FindByEmail(ctx, NormalizeEmail(in.Email))
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}
	if created {
		u.log.Info("user created", logger.Uint64("user_id", uint64(user.ID)))
	}
	return user, created, nil
}

// ResolveService returns the service with the exact (name, group) pair,
// creating it when absent. A concurrent insert resolves to the winner.
func (u *Upserter) ResolveService(ctx context.Context, name, group string) (*entities.Service, bool, error) {
	name, group = strings.TrimSpace(name), strings.TrimSpace(group)
	if name == "" {
		return nil, false, invalid("service name is required").Build()
	}
	if group == "" {
		return nil, false, invalid("service group is required").Build()
	}

	svc, err := u.store.Services().FindByNameGroup(ctx, name, group)
	if err == nil {
		return svc, false, nil
	}
	if !errors.Is(err, repository.ErrServiceNotFound) {
		return nil, false, err
	}

	svc = &entities.Service{Name: name, Group: group}
	err = u.store.Services().Create(ctx, svc)
	if errors.Is(err, repository.ErrConflict) {
		svc, err = u.store.Services().FindByNameGroup(ctx, name, group)
		return svc, false, err
	}
	if err != nil {
		return nil, false, err
	}
	u.log.Info("service created",
		logger.Uint64("service_id", uint64(svc.ID)),
		logger.String("name", svc.Name),
		logger.String("group", svc.Group))
	return svc, true, nil
}

// findOrCreateUser looks the user up by normalized email and inserts it
// when missing. Conflicts are returned to the caller.
func findOrCreateUser(ctx context.Context, s *repository.Store, in UserInput) (*entities.User, bool, error) {
	email := NormalizeEmail(in.Email)
	if err := validateUser(in, email); err != nil {
		return nil, false, err
	}

	user, err := s.Users().FindByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, err
	}

	user = &entities.User{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Role:        strings.TrimSpace(in.Role),
		Email:       email,
		PhoneNumber: in.PhoneNumber,
	}
	if err := s.Users().Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// validateUser checks required fields. Address syntax is checked by the
// intake schemas before input reaches the Upserter.
func validateUser(in UserInput, email string) error {
	switch {
	case email == "":
		return invalid("user email is required").Build()
	case strings.TrimSpace(in.FirstName) == "":
		return invalid("user first_name is required").Build()
	case strings.TrimSpace(in.LastName) == "":
		return invalid("user last_name is required").Build()
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func invalid(msg string) *errors.ErrorBuilder {
	return errors.Newf("%s", msg).
		Component(component).
		Category(errors.CategoryValidation)
}

// reject counts a failed upsert and passes the error through.
func (u *Upserter) reject(err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		u.metrics.RecordUpsert(upsertConflict)
	case errors.IsCategory(err, errors.CategoryValidation):
		u.metrics.RecordUpsert(upsertInvalid)
	}
	return err
}
