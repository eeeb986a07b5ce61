package hl7

import (
	"errors"
)

// ErrNilMessage indicates an attempt to encode a nil or empty message.
var ErrNilMessage = errors.New("nil message")

// Codec implements the parser collaborator contract used by the dispatch
// layer: deterministic text-to-structure and structure-to-text conversion
// with no side effects.
type Codec struct{}

// Parse decodes HL7 text into a structured message.
func (Codec) Parse(text string) (*Message, error) {
	return Parse(text)
}

// Encode renders a structured message back to HL7 text.
func (Codec) Encode(m *Message) (string, error) {
	if m == nil || len(m.Segments) == 0 {
		return "", ErrNilMessage
	}
	return m.Encode(), nil
}
