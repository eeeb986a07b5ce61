package log

// MultiLogger sends events to multiple loggers.
// Useful when you want both console output (via SlogAdapter)
// and file output (via FileLogger) simultaneously.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger that sends events to all provided loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log sends the event to all configured loggers. Every logger is attempted;
// the first error encountered is returned.
func (m *MultiLogger) Log(event Event) error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Log(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
