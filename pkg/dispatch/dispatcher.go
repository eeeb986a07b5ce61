package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mllp-protocol/mllp-go/pkg/hl7"
)

// Dispatch errors.
var (
	// ErrNoHandler indicates no transaction is registered for a decoded
	// message's (version, structure) key.
	ErrNoHandler = errors.New("no handler registered")

	// ErrDuplicateHandler indicates two transactions were registered for the
	// same (version, structure) key.
	ErrDuplicateHandler = errors.New("duplicate handler registration")
)

// Key identifies a transaction by HL7 version and message structure name.
type Key struct {
	Version   string
	Structure string
}

// String renders the key for error messages.
func (k Key) String() string {
	return k.Version + "/" + k.Structure
}

// Parser is the external text-to-structure collaborator. Implementations
// must be deterministic, side-effect free, and safe for concurrent calls.
type Parser interface {
	Parse(text string) (*hl7.Message, error)
	Encode(m *hl7.Message) (string, error)
}

// Dispatcher routes decoded messages to registered transactions. The
// registry is built once at construction and is read-only afterwards, so
// lookups need no synchronization.
type Dispatcher struct {
	parser   Parser
	registry map[Key]*Transaction
}

// NewDispatcher builds the registry from the given transactions. A duplicate
// (version, structure) key is a construction-time error, not a silent
// overwrite.
func NewDispatcher(parser Parser, transactions ...*Transaction) (*Dispatcher, error) {
	if parser == nil {
		return nil, fmt.Errorf("parser is required")
	}

	registry := make(map[Key]*Transaction, len(transactions))
	for _, t := range transactions {
		if t.Version == "" || t.Structure == "" {
			return nil, fmt.Errorf("transaction is missing version or structure")
		}
		if t.Execute == nil {
			return nil, fmt.Errorf("transaction %s has no execute hook", t.key())
		}
		if _, exists := registry[t.key()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, t.key())
		}
		registry[t.key()] = t
	}

	return &Dispatcher{
		parser:   parser,
		registry: registry,
	}, nil
}

// Handle parses raw message text, routes it to the registered transaction,
// and encodes the transaction's response back to text.
//
// The handler invocation may take arbitrary time; the dispatcher imposes no
// timeout of its own. Cancellation is checked between logical steps.
func (d *Dispatcher) Handle(ctx context.Context, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg, err := d.parser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse failed: %w", err)
	}

	key := Key{Version: msg.Version(), Structure: msg.Structure()}
	transaction, ok := d.registry[key]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoHandler, key)
	}

	resp, err := transaction.Handle(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("transaction %s failed: %w", key, err)
	}

	encoded, err := d.parser.Encode(resp)
	if err != nil {
		return "", fmt.Errorf("encode failed: %w", err)
	}
	return encoded, nil
}

// Registered reports whether a transaction exists for the key.
func (d *Dispatcher) Registered(key Key) bool {
	_, ok := d.registry[key]
	return ok
}

// Len returns the number of registered transactions.
func (d *Dispatcher) Len() int {
	return len(d.registry)
}
