package transport

// Message is a decoded inbound HL7 payload. It is created once a full frame
// has been deframed and is never mutated afterwards.
type Message struct {
	text       string
	encoding   string
	remoteAddr string
}

// NewMessage creates a Message value.
func NewMessage(text, encoding, remoteAddr string) Message {
	return Message{
		text:       text,
		encoding:   normalizeEncoding(encoding),
		remoteAddr: remoteAddr,
	}
}

// Text returns the decoded HL7 message text.
func (m Message) Text() string {
	return m.text
}

// Encoding returns the charset the text was carried in on the wire.
func (m Message) Encoding() string {
	return m.encoding
}

// RemoteAddr returns the peer address the message arrived from.
func (m Message) RemoteAddr() string {
	return m.remoteAddr
}
