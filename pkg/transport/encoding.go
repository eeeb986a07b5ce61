package transport

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is the charset used when a connection does not set one.
const DefaultEncoding = "UTF-8"

// ErrUnsupportedEncoding indicates an unknown charset name.
var ErrUnsupportedEncoding = errors.New("unsupported text encoding")

// encodings maps normalized charset names to their codecs. MLLP carries the
// charset out of band; both peers must configure the same name.
var encodings = map[string]encoding.Encoding{
	"UTF-8":        unicode.UTF8,
	"ASCII":        charmap.ISO8859_1, // byte-transparent alias; bytes above 0x7F pass through unchecked
	"ISO-8859-1":   charmap.ISO8859_1,
	"ISO-8859-15":  charmap.ISO8859_15,
	"WINDOWS-1252": charmap.Windows1252,
	"CP1252":       charmap.Windows1252,
}

// normalizeEncoding canonicalizes a charset name for lookup.
func normalizeEncoding(name string) string {
	if name == "" {
		return DefaultEncoding
	}
	return strings.ToUpper(strings.TrimSpace(name))
}

// lookupEncoding resolves a charset name to its codec.
func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, ok := encodings[normalizeEncoding(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}

// EncodeText converts message text to wire bytes in the named charset.
func EncodeText(name, text string) ([]byte, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	data, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode text as %s: %w", normalizeEncoding(name), err)
	}
	return data, nil
}

// DecodeText converts wire bytes in the named charset to message text.
func DecodeText(name string, data []byte) (string, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}
	text, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s text: %w", normalizeEncoding(name), err)
	}
	return string(text), nil
}
