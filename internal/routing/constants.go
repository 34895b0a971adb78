// Package routing decides who is notified about an incoming error and
// manages the notification rules that drive that decision.
package routing

// Severity levels, lowest first.
const (
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// DefaultSeverity applies to errors and rules that omit a severity.
const DefaultSeverity = SeverityError

// Resolution outcomes. Only OutcomeFired dispatches actions; the others
// are normal terminations, not failures.
const (
	OutcomeNoService      = "no_service"
	OutcomeNoRules        = "no_rules"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeFired          = "fired"
)

// Notification actions, in dispatch order.
const (
	ActionEmail  = "email"
	ActionTicket = "ticket"
	ActionCall   = "call"
)

// Upsert results as recorded in metrics.
const (
	upsertCreated  = "created"
	upsertUpdated  = "updated"
	upsertConflict = "conflict"
	upsertInvalid  = "invalid"
)

const component = "routing"
