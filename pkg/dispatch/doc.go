// Package dispatch routes decoded HL7 messages to transaction handlers.
//
// A Dispatcher owns an immutable registry keyed by (version, structure),
// built once at startup; duplicate keys fail construction. Each registered
// Transaction is a capability object whose Verify, Execute and
// FinalizeHeaders hooks are run by one fixed orchestration: verify the
// inbound message, execute the business logic unless verify rejected with a
// canned response, and finalize the response headers exactly once either
// way.
package dispatch
