package routing

import "strings"

var severityRanks = map[string]int{
	SeverityInfo:     10,
	SeverityWarn:     20,
	SeverityError:    30,
	SeverityCritical: 40,
}

// Rank maps a severity label to its ordinal. Labels are compared after
// trimming and upper-casing; empty or unknown labels rank as ERROR.
func Rank(severity string) int {
	if r, ok := severityRanks[strings.ToUpper(strings.TrimSpace(severity))]; ok {
		return r
	}
	return severityRanks[DefaultSeverity]
}

// NormalizeSeverity trims and upper-cases severity, defaulting to ERROR
// when empty. Unknown labels are returned normalized but unchanged.
func NormalizeSeverity(severity string) string {
	s := strings.ToUpper(strings.TrimSpace(severity))
	if s == "" {
		return DefaultSeverity
	}
	return s
}

// IsValidSeverity reports whether severity is exactly one of the four levels.
func IsValidSeverity(severity string) bool {
	_, ok := severityRanks[severity]
	return ok
}

// Severities lists the levels in ascending rank.
func Severities() []string {
	return []string{SeverityInfo, SeverityWarn, SeverityError, SeverityCritical}
}
