// Package log provides structured audit logging for the MLLP layer.
//
// This package defines the Logger interface and Event types used as the
// message-log sink by the transport layer: every outgoing send is recorded
// before its bytes reach the socket, and inbound frames, state changes and
// errors are captured alongside. It is separate from operational logging
// (slog) - the audit trail is a complete machine-readable record of what
// crossed the wire.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.AuditLog = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.AuditLog, _ = log.NewFileLogger("/var/log/mllp/node.mlog")
//
//	// Both: use MultiLogger
//	cfg.AuditLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw frame bytes (FrameEvent)
//   - Message: decoded HL7 text (MessageEvent)
//   - State: connection and listener transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with .mlog extension. The mllp-log CLI tool
// provides viewing and filtering.
package log
