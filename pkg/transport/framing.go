package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mllp-protocol/mllp-go/pkg/log"
)

// MLLP block markers.
const (
	// StartBlock marks the beginning of an MLLP frame.
	StartBlock byte = 0x0B

	// EndBlock is the first byte of the two-byte frame terminator.
	EndBlock byte = 0x1C

	// CarriageReturn is the second byte of the frame terminator.
	CarriageReturn byte = 0x0D
)

// Framing constants.
const (
	// DefaultMaxMessageSize is the default maximum payload size (1 MB).
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize is the maximum frame data size to include in audit
	// events (4 KB). Larger frames are truncated in log events to avoid
	// excessive memory usage.
	MaxLogFrameDataSize = 4096

	// frameOverhead is the marker byte count around a payload.
	frameOverhead = 3
)

// Framing errors.
var (
	// ErrFraming indicates a malformed delimiter sequence on the wire.
	ErrFraming = errors.New("framing violation")

	// ErrMessageTooLarge indicates the payload exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty payload.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the stream ended mid-frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// Frame wraps a payload in MLLP block markers. Pure, no I/O.
func Frame(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+frameOverhead)
	buf = append(buf, StartBlock)
	buf = append(buf, payload...)
	buf = append(buf, EndBlock, CarriageReturn)
	return buf
}

// FrameWriter writes MLLP-framed payloads to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	// Logging support (optional)
	logger     log.Logger
	connID     string
	remoteAddr string
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures audit logging for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID, remoteAddr string) {
	fw.logger = logger
	fw.connID = connID
	fw.remoteAddr = remoteAddr
}

// WriteFrame writes one MLLP frame. The frame is assembled in memory and
// written in a single call so markers and payload never interleave with
// another writer's output.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(payload)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(Frame(payload)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if fw.logger != nil {
		_ = fw.logger.Log(makeFrameEvent(payload, log.DirectionOut, fw.connID, fw.remoteAddr))
	}

	return nil
}

// FrameReader reads MLLP frames from an underlying reader.
// Reads are buffered; framing semantics are independent of the transport.
type FrameReader struct {
	br             *bufio.Reader
	maxMessageSize uint32

	// Logging support (optional)
	logger     log.Logger
	connID     string
	remoteAddr string
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		br:             bufio.NewReader(r),
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		br:             bufio.NewReader(r),
		maxMessageSize: maxSize,
	}
}

// SetLogger configures audit logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID, remoteAddr string) {
	fr.logger = logger
	fr.connID = connID
	fr.remoteAddr = remoteAddr
}

// ReadFrame reads one MLLP frame and returns its payload without the markers.
//
// A clean end of stream between frames returns io.EOF. The stream ending
// mid-frame returns ErrFrameTruncated. A start block inside a payload, a
// leading byte that is not a start block, or an end block not followed by a
// carriage return all return errors wrapping ErrFraming.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	first, err := fr.br.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if first != StartBlock {
		return nil, fmt.Errorf("%w: expected start block, got 0x%02X", ErrFraming, first)
	}

	payload := make([]byte, 0, 256)
	for {
		b, err := fr.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, ErrFrameTruncated
			}
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}

		switch b {
		case StartBlock:
			// A new frame began before the previous one terminated.
			return nil, fmt.Errorf("%w: start block inside payload", ErrFraming)

		case EndBlock:
			cr, err := fr.br.ReadByte()
			if err != nil {
				if err == io.EOF {
					return nil, ErrFrameTruncated
				}
				return nil, fmt.Errorf("failed to read frame: %w", err)
			}
			if cr != CarriageReturn {
				return nil, fmt.Errorf("%w: end block not followed by carriage return (0x%02X)", ErrFraming, cr)
			}

			if fr.logger != nil {
				_ = fr.logger.Log(makeFrameEvent(payload, log.DirectionIn, fr.connID, fr.remoteAddr))
			}
			return payload, nil

		default:
			if uint32(len(payload)) >= fr.maxMessageSize {
				return nil, fmt.Errorf("%w: payload exceeds %d", ErrMessageTooLarge, fr.maxMessageSize)
			}
			payload = append(payload, b)
		}
	}
}

// SetMaxMessageSize updates the maximum payload size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// makeFrameEvent creates an audit event for a frame.
func makeFrameEvent(payload []byte, direction log.Direction, connID, remoteAddr string) log.Event {
	frameData := payload
	truncated := false

	if len(payload) > MaxLogFrameDataSize {
		frameData = payload[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   remoteAddr,
		Frame: &log.FrameEvent{
			Size:      len(payload) + frameOverhead,
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// Framer combines frame reading and writing on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw),
		FrameWriter: NewFrameWriter(rw),
	}
}

// NewFramerWithMaxSize creates a framer with a custom max payload size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures audit logging for both reader and writer.
// Pass nil to disable logging.
func (f *Framer) SetLogger(logger log.Logger, connID, remoteAddr string) {
	f.FrameReader.SetLogger(logger, connID, remoteAddr)
	f.FrameWriter.SetLogger(logger, connID, remoteAddr)
}

// FrameSize returns the total frame size including the block markers.
func FrameSize(payloadSize int) int {
	return payloadSize + frameOverhead
}
