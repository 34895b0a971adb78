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
	"go.opentelemetry.io/otel/trace"
)

// Incident is a stored error submitted for resolution.
type Incident struct {
	ErrorID  uint
	Machine  string
	Severity string
	Message  string
}

// FiredRule is a rule that met the severity threshold and the actions it ran.
type FiredRule struct {
	RuleID  uint           `json:"rule_id"`
	UserID  uint           `json:"user_id"`
	Actions []ActionResult `json:"actions"`
}

// Outcome summarizes one resolution.
type Outcome struct {
	Status    string      `json:"status"`
	Machine   string      `json:"machine"`
	Severity  string      `json:"severity"`
	ServiceID uint        `json:"service_id,omitempty"`
	Fired     []FiredRule `json:"fired,omitempty"`
}

// Resolver matches incidents to services and fires their enabled rules.
// It holds no state between calls and is safe for concurrent use.
type Resolver struct {
	services   repository.ServiceRepository
	rules      repository.RuleRepository
	dispatcher *Dispatcher
	log        logger.Logger
	metrics    *metrics.Metrics
}

// NewResolver creates a Resolver. m may be nil.
func NewResolver(services repository.ServiceRepository, rules repository.RuleRepository, dispatcher *Dispatcher, log logger.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		services:   services,
		rules:      rules,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
	}
}

// Resolve finds the service named by the incident's machine, filters its
// enabled rules by severity and dispatches every surviving rule once.
// Unmatched services, empty rule sets and unmet thresholds are reported
// through the outcome, not as errors. Only store failures return an error.
func (r *Resolver) Resolve(ctx context.Context, inc Incident) (*Outcome, error) {
	out := &Outcome{
		Machine:  strings.TrimSpace(inc.Machine),
		Severity: NormalizeSeverity(inc.Severity),
	}

	ctx, span := tracing.Tracer().Start(ctx, "routing.Resolve", trace.WithAttributes(
		attribute.String("errintake.machine", out.Machine),
		attribute.String("errintake.severity", out.Severity),
		attribute.Int64("errintake.error_id", int64(inc.ErrorID)),
	))
	defer span.End()

	log := r.log.With(
		logger.String("machine", out.Machine),
		logger.String("severity", out.Severity),
		logger.Uint64("error_id", uint64(inc.ErrorID)))

	svc, err := r.services.FindByMachine(ctx, out.Machine)
	if errors.Is(err, repository.ErrServiceNotFound) {
		log.Info("no service matches machine, nothing to notify")
		return r.finish(span, out, OutcomeNoService), nil
	}
	if err != nil {
		return nil, r.fail(span, err)
	}
	out.ServiceID = svc.ID
	span.SetAttributes(attribute.Int64("errintake.service_id", int64(svc.ID)))

	rules, err := r.rules.ListEnabledByService(ctx, svc.ID)
	if err != nil {
		return nil, r.fail(span, err)
	}
	if len(rules) == 0 {
		log.Info("service has no enabled rules", logger.Uint64("service_id", uint64(svc.ID)))
		return r.finish(span, out, OutcomeNoRules), nil
	}

	errRank := Rank(out.Severity)
	for i := range rules {
		rule := &rules[i]
		if errRank < Rank(rule.MinSeverity) {
			continue
		}
		out.Fired = append(out.Fired, r.fire(ctx, svc, rule, inc, out.Severity))
	}

	if len(out.Fired) == 0 {
		log.Info("no rule threshold met", logger.Int("enabled_rules", len(rules)))
		return r.finish(span, out, OutcomeBelowThreshold), nil
	}
	log.Info("notification rules fired", logger.Int("fired", len(out.Fired)))
	return r.finish(span, out, OutcomeFired), nil
}

func (r *Resolver) fire(ctx context.Context, svc *entities.Service, rule *entities.NotificationRule, inc Incident, severity string) FiredRule {
	notice := Notice{
		UserID:      rule.UserID,
		ServiceName: svc.Name,
		Severity:    severity,
		Message:     inc.Message,
		ErrorID:     inc.ErrorID,
	}
	return FiredRule{
		RuleID:  rule.ID,
		UserID:  rule.UserID,
		Actions: r.dispatcher.Dispatch(ctx, rule, notice),
	}
}

func (r *Resolver) finish(span trace.Span, out *Outcome, status string) *Outcome {
	out.Status = status
	span.SetAttributes(attribute.String("errintake.outcome", status))
	r.metrics.RecordResolution(status)
	return out
}

func (r *Resolver) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.metrics.RecordResolution("error")
	return err
}
