// Package transport provides the MLLP transport layer implementation.
//
// The transport layer handles:
//   - MLLP delimiter framing (start block, end block + carriage return)
//   - Optional TLS 1.1/1.2 upgrade with mutual authentication
//   - Client connections with single-outstanding-send discipline
//   - Listeners running one request/response loop per accepted peer
//   - Audit logging of every exchange before bytes reach the socket
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│       HL7 v2 text              │
//	├────────────────────────────────┤
//	│  MLLP framing (0x0B … 0x1C0D)  │
//	├────────────────────────────────┤
//	│     TLS 1.1/1.2 (optional)     │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Wire Format
//
// A frame is StartBlock (0x0B), the charset-encoded message text, then
// EndBlock (0x1C) and CarriageReturn (0x0D). There is no length prefix;
// framing is purely delimiter-based, and a start block inside a payload is
// a protocol violation, not data. The text charset is connection-level
// configuration and must match on both peers.
//
// # Concurrency
//
// A Connection enforces at most one outstanding send at a time: a second
// concurrent Send fails immediately with ErrSendInFlight rather than
// queuing. No retries happen at this layer; a framing or transport failure
// resolves the in-flight send exactly once and moves the connection to a
// terminal faulted state in which every later send fails fast.
package transport
