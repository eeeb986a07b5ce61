package log

// Logger is the interface applications implement to receive audit events.
// Pass nil or NoopLogger to disable logging.
//
// Log returns an error because the transport layer writes an outbound
// message event before the corresponding network write and aborts the send
// if the audit record cannot be stored. Implementations must be thread-safe.
type Logger interface {
	// Log records an audit event. The event should be processed quickly or
	// queued; blocking delays the send path.
	Log(event Event) error
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) error { return nil }

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
