package hl7

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiters for pipe-delimited HL7 v2 text.
const (
	segmentSeparator   = "\r"
	fieldSeparator     = "|"
	componentSeparator = "^"
)

// Parsing errors.
var (
	// ErrEmptyMessage indicates there was no text to parse.
	ErrEmptyMessage = errors.New("empty message")

	// ErrNoHeader indicates the message does not start with an MSH segment.
	ErrNoHeader = errors.New("message has no MSH segment")
)

// Message is a structured HL7 v2 message: an ordered list of segments.
type Message struct {
	Segments []Segment
}

// Segment is one named segment. Fields holds the field values after the
// segment name; field numbering follows HL7 conventions, including the MSH
// offset (MSH-1 is the field separator itself).
type Segment struct {
	Name   string
	Fields []string
}

// Parse decodes pipe-delimited HL7 text into a Message. The first segment
// must be MSH. Segments are separated by carriage returns; a trailing
// separator is tolerated.
func Parse(text string) (*Message, error) {
	text = strings.TrimRight(text, segmentSeparator)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	lines := strings.Split(text, segmentSeparator)
	msg := &Message{Segments: make([]Segment, 0, len(lines))}

	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSeparator)
		name := parts[0]
		if len(name) != 3 {
			return nil, fmt.Errorf("malformed segment name %q", name)
		}
		msg.Segments = append(msg.Segments, Segment{
			Name:   name,
			Fields: parts[1:],
		})
	}

	if len(msg.Segments) == 0 {
		return nil, ErrEmptyMessage
	}
	if msg.Segments[0].Name != "MSH" {
		return nil, ErrNoHeader
	}

	return msg, nil
}

// Encode renders the message back to pipe-delimited text. Segments are
// joined with carriage returns, without a trailing separator, so
// Encode(Parse(x)) == x for canonical input.
func (m *Message) Encode() string {
	lines := make([]string, 0, len(m.Segments))
	for _, seg := range m.Segments {
		parts := append([]string{seg.Name}, seg.Fields...)
		lines = append(lines, strings.Join(parts, fieldSeparator))
	}
	return strings.Join(lines, segmentSeparator)
}

// Segment returns the first segment with the given name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// Header returns the MSH segment, or nil for a malformed message.
func (m *Message) Header() *Segment {
	return m.Segment("MSH")
}

// Field returns the n-th field (1-based, HL7 numbering). For MSH segments,
// field 1 is the field separator itself and field 2 is the encoding
// characters, matching the standard's offset. Missing fields return "".
func (s *Segment) Field(n int) string {
	if n < 1 {
		return ""
	}
	idx := n - 1
	if s.Name == "MSH" {
		if n == 1 {
			return fieldSeparator
		}
		idx = n - 2
	}
	if idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx]
}

// SetField sets the n-th field (1-based, HL7 numbering), growing the segment
// with empty fields as needed. Setting MSH-1 is a no-op; the separator is
// structural.
func (s *Segment) SetField(n int, value string) {
	if n < 1 {
		return
	}
	idx := n - 1
	if s.Name == "MSH" {
		if n == 1 {
			return
		}
		idx = n - 2
	}
	for len(s.Fields) <= idx {
		s.Fields = append(s.Fields, "")
	}
	s.Fields[idx] = value
}

// Component returns the c-th component (1-based) of the n-th field.
func (s *Segment) Component(n, c int) string {
	parts := strings.Split(s.Field(n), componentSeparator)
	if c < 1 || c > len(parts) {
		return ""
	}
	return parts[c-1]
}

// Version returns the HL7 version from MSH-12 (e.g. "2.5").
func (m *Message) Version() string {
	if h := m.Header(); h != nil {
		return h.Field(12)
	}
	return ""
}

// Structure returns the message structure name from MSH-9: the explicit
// third component when present (e.g. "ADT_A01"), otherwise derived from the
// message type and trigger event.
func (m *Message) Structure() string {
	h := m.Header()
	if h == nil {
		return ""
	}
	msgType := h.Component(9, 1)
	trigger := h.Component(9, 2)
	structure := h.Component(9, 3)

	if structure != "" {
		return structure
	}
	if msgType == "ACK" || trigger == "" {
		return msgType
	}
	return msgType + "_" + trigger
}

// ControlID returns the message control ID from MSH-10.
func (m *Message) ControlID() string {
	if h := m.Header(); h != nil {
		return h.Field(10)
	}
	return ""
}
