package hl7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20240101120000||ADT^A01^ADT_A01|MSG00001|P|2.5\r" +
	"EVN|A01|20240101120000\r" +
	"PID|1||12345^^^HOSP^MR||DOE^JOHN"

func TestParse(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)
	require.Len(t, msg.Segments, 3)

	assert.Equal(t, "MSH", msg.Segments[0].Name)
	assert.Equal(t, "EVN", msg.Segments[1].Name)
	assert.Equal(t, "PID", msg.Segments[2].Name)

	assert.Equal(t, "2.5", msg.Version())
	assert.Equal(t, "ADT_A01", msg.Structure())
	assert.Equal(t, "MSG00001", msg.ControlID())
}

func TestParseTrailingSeparator(t *testing.T) {
	msg, err := Parse(sampleADT + "\r")
	require.NoError(t, err)
	assert.Len(t, msg.Segments, 3)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrEmptyMessage},
		{"only separators", "\r\r", ErrEmptyMessage},
		{"no MSH first", "PID|1||12345", ErrNoHeader},
		{"MSH not first", "EVN|A01\rMSH|^~\\&", ErrNoHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse("MS|broken")
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)
	assert.Equal(t, sampleADT, msg.Encode())
}

func TestFieldAccess(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	h := msg.Header()
	require.NotNil(t, h)

	// MSH numbering is offset: MSH-1 is the separator itself.
	assert.Equal(t, "|", h.Field(1))
	assert.Equal(t, "^~\\&", h.Field(2))
	assert.Equal(t, "SENDAPP", h.Field(3))
	assert.Equal(t, "2.5", h.Field(12))
	assert.Equal(t, "", h.Field(13))
	assert.Equal(t, "", h.Field(0))

	pid := msg.Segment("PID")
	require.NotNil(t, pid)
	assert.Equal(t, "1", pid.Field(1))
	assert.Equal(t, "12345^^^HOSP^MR", pid.Field(3))
	assert.Equal(t, "12345", pid.Component(3, 1))
	assert.Equal(t, "HOSP", pid.Component(3, 4))
	assert.Equal(t, "", pid.Component(3, 9))

	assert.Nil(t, msg.Segment("OBX"))
}

func TestSetField(t *testing.T) {
	msg, err := Parse(sampleADT)
	require.NoError(t, err)

	h := msg.Header()
	h.SetField(10, "NEW-ID")
	assert.Equal(t, "NEW-ID", msg.ControlID())

	// Setting past the current end grows the segment.
	pid := msg.Segment("PID")
	pid.SetField(8, "M")
	assert.Equal(t, "M", pid.Field(8))
	assert.Equal(t, "", pid.Field(7))

	// MSH-1 is structural and cannot be overwritten.
	h.SetField(1, "#")
	assert.Equal(t, "|", h.Field(1))
}

func TestStructure(t *testing.T) {
	tests := []struct {
		name string
		msh9 string
		want string
	}{
		{"explicit structure", "ADT^A01^ADT_A01", "ADT_A01"},
		{"derived from type and trigger", "ORU^R01", "ORU_R01"},
		{"ack has no trigger suffix", "ACK^A01", "ACK"},
		{"type only", "ACK", "ACK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse("MSH|^~\\&|A|B|C|D|||" + tt.msh9 + "|ID1|P|2.5")
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Structure())
		})
	}
}
