package log

import (
	"errors"
	"testing"
)

// recordingLogger captures events for assertions.
type recordingLogger struct {
	events []Event
	err    error
}

func (r *recordingLogger) Log(event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMultiLoggerFanOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	if err := m.Log(testEvent("conn-1", DirectionOut)); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out counts = %d, %d, want 1, 1", len(a.events), len(b.events))
	}
}

func TestMultiLoggerFirstError(t *testing.T) {
	errSink := errors.New("sink failed")
	a := &recordingLogger{err: errSink}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b)

	err := m.Log(testEvent("conn-1", DirectionOut))
	if !errors.Is(err, errSink) {
		t.Errorf("Log returned %v, want %v", err, errSink)
	}

	// The failing logger must not stop delivery to the others.
	if len(b.events) != 1 {
		t.Errorf("second logger received %d events, want 1", len(b.events))
	}
}

func TestNoopLogger(t *testing.T) {
	var l NoopLogger
	if err := l.Log(testEvent("conn-1", DirectionIn)); err != nil {
		t.Errorf("NoopLogger.Log returned %v, want nil", err)
	}
}
