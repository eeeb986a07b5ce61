package hl7

import (
	"time"
)

// AckCode is the MSA-1 acknowledgement code.
type AckCode string

const (
	// AckAccept indicates the message was accepted (AA).
	AckAccept AckCode = "AA"

	// AckError indicates an application error (AE).
	AckError AckCode = "AE"

	// AckReject indicates the message was rejected (AR).
	AckReject AckCode = "AR"
)

// Timestamp layout for MSH-7 (second precision, no zone).
const timestampLayout = "20060102150405"

// Ack builds an acknowledgement for the message: an MSH with sender and
// receiver swapped and message type ACK, plus an MSA echoing the original
// control ID. MSH-7 and MSH-10 are left for the caller to stamp, typically
// in a handler's finalize step.
func (m *Message) Ack(code AckCode, text string) *Message {
	h := m.Header()
	if h == nil {
		h = &Segment{Name: "MSH"}
	}

	msh := Segment{Name: "MSH"}
	msh.SetField(2, h.Field(2))
	// Swap sender and receiver.
	msh.SetField(3, h.Field(5))
	msh.SetField(4, h.Field(6))
	msh.SetField(5, h.Field(3))
	msh.SetField(6, h.Field(4))
	msh.SetField(9, "ACK"+componentSeparator+h.Component(9, 2)+componentSeparator+"ACK")
	msh.SetField(11, h.Field(11))
	msh.SetField(12, h.Field(12))

	msa := Segment{Name: "MSA"}
	msa.SetField(1, string(code))
	msa.SetField(2, m.ControlID())
	if text != "" {
		msa.SetField(3, text)
	}

	return &Message{Segments: []Segment{msh, msa}}
}

// StampTimestamp sets MSH-7 to the given time.
func (m *Message) StampTimestamp(t time.Time) {
	if h := m.Header(); h != nil {
		h.SetField(7, t.Format(timestampLayout))
	}
}

// StampControlID sets MSH-10.
func (m *Message) StampControlID(id string) {
	if h := m.Header(); h != nil {
		h.SetField(10, id)
	}
}
