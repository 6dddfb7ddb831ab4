package emit

import (
	"os"
	"strings"
	"time"
)

// Severity represents the importance level of an agent event.
type Severity int

const (
	SeverityInfo     Severity = iota // Normal operations
	SeverityWarn                     // Suspicious activity, worth investigating
	SeverityCritical                 // Needs immediate attention
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity level. The comparison is
// case-insensitive. Returns SeverityInfo for unrecognized values.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event represents a structured agent event for external emission.
type Event struct {
	Severity  Severity
	Type      string // Event type ("token_rotated", "collector_disabled", etc.)
	Timestamp time.Time
	Host      string         // agent host identifier
	Fields    map[string]any // structured fields from the audit call
}

// DefaultHost returns the hostname or "nodewarden" as fallback.
func DefaultHost() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "nodewarden"
}

// EventSeverity maps agent event type strings to their severity level.
// Severity is hardcoded — users control emission threshold, not event
// severity.
var EventSeverity = map[string]Severity{
	// Critical: needs immediate attention
	"rotation_persist_failed": SeverityCritical,

	// Warn: suspicious, worth investigating
	"collector_disabled": SeverityWarn,
	"unsafe_flag_forced": SeverityWarn,
	"sync_error":         SeverityWarn,
	"queue_drop":         SeverityWarn,
	"capability_change":  SeverityWarn,

	// Info: normal operations
	"token_rotated":  SeverityInfo,
	"config_applied": SeverityInfo,
	"field_clamped":  SeverityInfo,
	"field_dropped":  SeverityInfo,
	"startup":        SeverityInfo,
	"shutdown":       SeverityInfo,
}
