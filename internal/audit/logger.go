// Package audit provides structured JSON audit logging for all nodewarden events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Remote-supplied values (URLs, hostnames) end up in
// log fields; a crafted value must not be able to inject escape sequences
// into a terminal tailing the audit log.
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventConfigApplied     EventType = "config_applied"
	EventCollectorDisabled EventType = "collector_disabled"
	EventFieldClamped      EventType = "field_clamped"
	EventFieldDropped      EventType = "field_dropped"
	EventUnsafeFlagForced  EventType = "unsafe_flag_forced"
	EventTokenRotated      EventType = "token_rotated"
	EventRotationPersist   EventType = "rotation_persist_failed"
	EventSyncError         EventType = "sync_error"
	EventSyncRetry         EventType = "sync_retry"
	EventCollectorError    EventType = "collector_error"
	EventCapabilityChange  EventType = "capability_change"
	EventQueueDrop         EventType = "queue_drop"
	EventBanner            EventType = "capability_banner"
	EventLocalReload       EventType = "local_config_reload"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl         zerolog.Logger
	fileHandle *os.File // non-nil if logging to file
}

// New creates a new audit logger. The caller should call Close when done.
func New(format, output, filePath string) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "nodewarden").
		Logger()

	return &Logger{
		zl:         zl,
		fileHandle: fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// SetLevel adjusts the minimum level emitted by this logger.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.zl = l.zl.Level(level)
}

// LogCollectorDisabled logs a validator decision that disabled a collector's
// configuration sub-tree for the current cycle.
func (l *Logger) LogCollectorDisabled(collector, field, value, reason string) {
	l.zl.Warn().
		Str("event", string(EventCollectorDisabled)).
		Str("collector", collector).
		Str("field", field).
		Str("value", sanitizeString(value)).
		Str("reason", sanitizeString(reason)).
		Msg("collector disabled by validator")
}

// LogFieldClamped logs a numeric field forced into its documented range.
func (l *Logger) LogFieldClamped(field string, requested, applied int) {
	l.zl.Info().
		Str("event", string(EventFieldClamped)).
		Str("field", field).
		Int("requested", requested).
		Int("applied", applied).
		Msg("field clamped to documented range")
}

// LogFieldDropped logs an individual list element rejected by the validator.
func (l *Logger) LogFieldDropped(field, value, reason string) {
	l.zl.Info().
		Str("event", string(EventFieldDropped)).
		Str("field", field).
		Str("value", sanitizeString(value)).
		Str("reason", sanitizeString(reason)).
		Msg("field element dropped")
}

// LogUnsafeFlagForced logs a documented-dangerous boolean pinned to its safe
// value despite the remote config requesting otherwise.
func (l *Logger) LogUnsafeFlagForced(collector, field string) {
	l.zl.Warn().
		Str("event", string(EventUnsafeFlagForced)).
		Str("collector", collector).
		Str("field", field).
		Msg("unsafe flag requested by remote config, forcing safe value")
}

// LogConfigApplied logs a validated configuration being swapped in.
func (l *Logger) LogConfigApplied(interval, collectorsEnabled int) {
	l.zl.Info().
		Str("event", string(EventConfigApplied)).
		Int("interval", interval).
		Int("collectors_enabled", collectorsEnabled).
		Msg("validated configuration applied")
}

// LogTokenRotated logs a credential rotation. The secret itself is never logged.
func (l *Logger) LogTokenRotated(path string) {
	l.zl.Info().
		Str("event", string(EventTokenRotated)).
		Str("path", path).
		Msg("credential rotated")
}

// LogRotationPersistFailed logs a rotation that updated the in-memory secret
// but failed to persist to disk.
func (l *Logger) LogRotationPersistFailed(path string, err error) {
	l.zl.Error().
		Str("event", string(EventRotationPersist)).
		Str("path", path).
		Err(err).
		Msg("credential rotated in memory but persistence failed")
}

// LogSyncError logs a failed synchronization exchange.
func (l *Logger) LogSyncError(url string, err error) {
	l.zl.Error().
		Str("event", string(EventSyncError)).
		Str("url", sanitizeString(url)).
		Err(err).
		Msg("synchronization error")
}

// LogSyncRetry logs a retry attempt with its backoff delay.
func (l *Logger) LogSyncRetry(attempt int, wait time.Duration, err error) {
	l.zl.Warn().
		Str("event", string(EventSyncRetry)).
		Int("attempt", attempt).
		Dur("wait_ms", wait).
		Err(err).
		Msg("synchronization retry")
}

// LogCollectorError logs a collector invocation failure. The cycle continues.
func (l *Logger) LogCollectorError(collector string, err error) {
	l.zl.Warn().
		Str("event", string(EventCollectorError)).
		Str("collector", collector).
		Err(err).
		Msg("collector failed")
}

// LogCapabilityChange logs a capability becoming available or unavailable.
func (l *Logger) LogCapabilityChange(capability string, available bool) {
	l.zl.Info().
		Str("event", string(EventCapabilityChange)).
		Str("capability", capability).
		Bool("available", available).
		Msg("capability changed")
}

// LogQueueDrop logs the metrics queue shedding its oldest payload.
func (l *Logger) LogQueueDrop(depth int) {
	l.zl.Warn().
		Str("event", string(EventQueueDrop)).
		Int("depth", depth).
		Msg("queue full, dropping oldest payload")
}

// LogBannerLine logs one line of the capability banner.
func (l *Logger) LogBannerLine(collector, status, reason string) {
	l.zl.Info().
		Str("event", string(EventBanner)).
		Str("collector", collector).
		Str("status", status).
		Str("reason", sanitizeString(reason)).
		Msg("capability banner")
}

// LogLocalReload logs a local configuration file reload.
func (l *Logger) LogLocalReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventLocalReload)).
		Str("status", status).
		Str("detail", sanitizeString(detail)).
		Msg("local configuration reloaded")
}

// LogStartup logs that the agent has started.
func (l *Logger) LogStartup(version, apiURL string) {
	l.zl.Info().
		Str("event", "startup").
		Str("version", version).
		Str("api_url", sanitizeString(apiURL)).
		Msg("nodewarden started")
}

// LogShutdown logs that the agent is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("nodewarden stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file — only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl: l.zl.With().Str(key, value).Logger(),
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
