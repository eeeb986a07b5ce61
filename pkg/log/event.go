package log

import (
	"time"
)

// Event represents an audit log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"7,keyasint,omitempty"`  // Transport layer (raw frame)
	Message     *MessageEvent     `cbor:"8,keyasint,omitempty"`  // Decoded HL7 message text
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`  // Connection/listener state
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerMessage is the decoded HL7 text layer.
	LayerMessage Layer = 1
	// LayerDispatch is the transaction dispatch layer.
	LayerDispatch Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerMessage:
		return "MESSAGE"
	case LayerDispatch:
		return "DISPATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is a frame or message exchange event.
	CategoryMessage Category = 0
	// CategoryState is a connection state change event.
	CategoryState Category = 1
	// CategoryError is an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw MLLP frame at the transport layer.
type FrameEvent struct {
	// Size is the total frame size in bytes, including the block markers.
	Size int `cbor:"1,keyasint"`

	// Data is the frame payload, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut to the log size limit.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures decoded HL7 message text.
type MessageEvent struct {
	// Text is the HL7 message text, possibly truncated.
	Text string `cbor:"1,keyasint"`

	// Encoding is the charset the text was carried in on the wire.
	Encoding string `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Text was cut to the log size limit.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a connection or listener state transition.
type StateChangeEvent struct {
	// Entity is what changed state.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state name (empty for initial transitions).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state name.
	NewState string `cbor:"3,keyasint"`

	// Reason optionally explains the transition.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity identifies the entity a state change applies to.
type StateEntity uint8

const (
	// StateEntityConnection is a single connection.
	StateEntityConnection StateEntity = 0
	// StateEntityListener is the accepting listener.
	StateEntityListener StateEntity = 1
)

// String returns the entity name.
func (e StateEntity) String() string {
	switch e {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context optionally describes the operation that failed.
	Context string `cbor:"3,keyasint,omitempty"`
}
