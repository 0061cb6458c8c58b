package audit

import (
	"github.com/rs/zerolog"
)

// Results recorded with every audit event.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Logger provides structured audit logging for store mutations.
// All audit events are logged with structured fields for easy filtering and analysis.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger from a zerolog.Logger.
// Pass zerolog.Nop() to discard all entries.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func levelFor(result string) zerolog.Level {
	switch result {
	case ResultDenied, ResultError:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogOperation logs a store, pin, unpin or forget request.
// actor: the authenticated caller
// operation: operation kind (e.g., "store", "pin", "forget")
// bucket: bucket id
// objectID: object id (may be empty when the request failed before it was known)
// result: "allowed", "denied" or "error"
// details: additional context (e.g., error message, "deduplicated")
func (l *Logger) LogOperation(actor, operation, bucket, objectID, result, details string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "object_operation").
		Str("actor", actor).
		Str("operation", operation).
		Str("bucket", bucket).
		Str("result", result)

	if objectID != "" {
		event = event.Str("object_id", objectID)
	}
	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Object operation")
}

// LogForceForget logs a privileged removal that bypassed the pin gate.
// It is always logged at warn level, whatever the result.
// droppedPins: number of pins removed with the object
func (l *Logger) LogForceForget(actor, bucket, objectID, result string, droppedPins uint64, details string) {
	event := l.logger.Warn().
		Str("event_type", "force_forget").
		Str("actor", actor).
		Str("operation", "force_forget").
		Str("bucket", bucket).
		Str("object_id", objectID).
		Str("result", result).
		Uint64("dropped_pins", droppedPins)

	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Object force-forgotten")
}

// LogBucket logs a bucket creation request.
// owner: the creating actor
// bucket: bucket id (empty if the request was rejected)
// name: bucket name as requested
func (l *Logger) LogBucket(owner, bucket, name, result, details string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "bucket_management").
		Str("actor", owner).
		Str("operation", "create_bucket").
		Str("name", name).
		Str("result", result)

	if bucket != "" {
		event = event.Str("bucket", bucket)
	}
	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Bucket event")
}
