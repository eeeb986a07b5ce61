package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mllp-protocol/mllp-go/pkg/log"
)

// Connection states.
type ConnectionState int32

const (
	// StateConnecting indicates dial/handshake in progress.
	StateConnecting ConnectionState = iota

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosing indicates close in progress.
	StateClosing

	// StateClosed indicates an orderly closed connection.
	StateClosed

	// StateFaulted is terminal: a framing or transport failure killed the
	// deframing loop. All pending and subsequent sends fail fast.
	StateFaulted
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	// ErrSendInFlight indicates a send was attempted while another send is
	// outstanding on the same connection. Sends are never queued; callers
	// needing parallel throughput must open multiple connections.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionFaulted indicates the connection entered the terminal
	// faulted state after a framing or transport failure.
	ErrConnectionFaulted = errors.New("connection faulted")
)

// ConnectionConfig configures an MLLP client connection.
type ConnectionConfig struct {
	// TLS enables a TLS client upgrade after dialing. Nil means plaintext.
	TLS *TLSConfig

	// Encoding is the charset message text is carried in (default: UTF-8).
	// It must match the remote peer's configuration.
	Encoding string

	// AuditLog records every send before its network write, plus inbound
	// messages and state changes. A failed audit write aborts the send.
	// Nil disables audit logging.
	AuditLog log.Logger

	// MaxMessageSize is the maximum payload size (default: 1MB).
	MaxMessageSize uint32

	// ConnectTimeout bounds dialing and the TLS handshake when the caller's
	// context carries no deadline (default: 30s).
	ConnectTimeout time.Duration
}

// sendResult carries the outcome of one request/response exchange.
type sendResult struct {
	msg Message
	err error
}

// Connection is an MLLP client connection. It owns one socket, frames
// outgoing sends, and runs a background deframing loop that resolves
// pending responses in send order.
//
// A Connection allows at most one outstanding send at a time; a concurrent
// Send fails immediately with ErrSendInFlight.
type Connection struct {
	config   ConnectionConfig
	auditLog log.Logger

	conn       net.Conn
	framer     *Framer
	connID     string
	remoteAddr string

	state   atomic.Int32
	sending atomic.Bool

	mu       sync.Mutex
	pending  []chan sendResult
	faultErr error

	closeOnce sync.Once
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// Connect dials the address, performs the TLS handshake if configured, and
// starts the background deframing loop. It returns once setup completes.
func Connect(ctx context.Context, address string, config ConnectionConfig) (*Connection, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.Encoding == "" {
		config.Encoding = DefaultEncoding
	}
	if _, err := lookupEncoding(config.Encoding); err != nil {
		return nil, err
	}

	auditLog := config.AuditLog
	if auditLog == nil {
		auditLog = log.NoopLogger{}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if config.TLS != nil {
		tlsConf, err := NewClientTLSConfig(config.TLS)
		if err != nil {
			conn.Close()
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		if err := VerifyTLSVersion(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}
		conn = tlsConn
	}

	c := &Connection{
		config:     config,
		auditLog:   auditLog,
		conn:       conn,
		connID:     uuid.New().String(),
		remoteAddr: conn.RemoteAddr().String(),
		loopDone:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	c.framer = NewFramerWithMaxSize(conn, config.MaxMessageSize)
	c.framer.SetLogger(auditLog, c.connID, c.remoteAddr)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(loopCtx)

	c.setState(StateConnected, "")

	return c, nil
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// ConnID returns the unique connection identifier.
func (c *Connection) ConnID() string {
	return c.connID
}

// RemoteAddr returns the resolved remote endpoint.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Send frames and writes one message, then awaits the peer's response.
//
// The message text is recorded in the audit log before any bytes reach the
// socket; the log therefore reflects attempted sends even when the network
// write fails, and a failed log write aborts the send. A second Send while
// one is outstanding fails immediately with ErrSendInFlight.
func (c *Connection) Send(ctx context.Context, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err := c.usable(); err != nil {
		return Message{}, err
	}

	if !c.sending.CompareAndSwap(false, true) {
		return Message{}, ErrSendInFlight
	}
	defer c.sending.Store(false)

	payload, err := EncodeText(c.config.Encoding, text)
	if err != nil {
		return Message{}, err
	}

	// Audit record precedes the network write.
	if err := c.auditLog.Log(c.makeMessageEvent(text, log.DirectionOut)); err != nil {
		return Message{}, fmt.Errorf("audit log write failed: %w", err)
	}

	slot := make(chan sendResult, 1)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return Message{}, err
	}
	c.pending = append(c.pending, slot)
	c.mu.Unlock()

	if err := c.framer.WriteFrame(payload); err != nil {
		c.removeSlot(slot)
		c.fault(err)
		return Message{}, fmt.Errorf("transport write failed: %w", err)
	}

	select {
	case res := <-slot:
		return res.msg, res.err
	case <-ctx.Done():
		c.removeSlot(slot)
		return Message{}, ctx.Err()
	}
}

// Close cancels the deframing loop and closes the socket. Pending sends fail
// with ErrConnectionClosed. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if s := c.State(); s != StateFaulted && s != StateClosed {
			c.setState(StateClosing, "")
		}
		c.cancel()
		c.conn.Close()
		<-c.loopDone

		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, slot := range pending {
			slot <- sendResult{err: ErrConnectionClosed}
		}

		if c.State() != StateFaulted {
			c.setState(StateClosed, "")
		}
	})
	return nil
}

// usable reports whether the connection accepts new sends.
func (c *Connection) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usableLocked()
}

func (c *Connection) usableLocked() error {
	switch c.State() {
	case StateConnected:
		return nil
	case StateFaulted:
		if c.faultErr != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFaulted, c.faultErr)
		}
		return ErrConnectionFaulted
	default:
		return ErrConnectionClosed
	}
}

// readLoop deframes inbound bytes and resolves pending sends in order.
// It runs until the connection is closed or a failure faults it.
func (c *Connection) readLoop(ctx context.Context) {
	defer close(c.loopDone)

	for {
		payload, err := c.framer.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || c.State() == StateClosing {
				return // cooperative cancellation, not a fault
			}
			if err == io.EOF && !c.hasPending() {
				// Peer closed between exchanges.
				c.setState(StateClosed, "peer closed")
				c.conn.Close()
				return
			}
			c.fault(err)
			return
		}

		text, err := DecodeText(c.config.Encoding, payload)
		if err != nil {
			c.fault(err)
			return
		}

		msg := NewMessage(text, c.config.Encoding, c.remoteAddr)
		_ = c.auditLog.Log(c.makeMessageEvent(text, log.DirectionIn))

		c.mu.Lock()
		var slot chan sendResult
		if len(c.pending) > 0 {
			slot = c.pending[0]
			c.pending = c.pending[1:]
		}
		c.mu.Unlock()

		if slot == nil {
			// No send awaits a response. Record and discard.
			_ = c.auditLog.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: c.connID,
				Direction:    log.DirectionIn,
				Layer:        log.LayerTransport,
				Category:     log.CategoryError,
				RemoteAddr:   c.remoteAddr,
				Error: &log.ErrorEventData{
					Layer:   log.LayerTransport,
					Message: "unsolicited message discarded",
				},
			})
			continue
		}
		slot <- sendResult{msg: msg}
	}
}

// fault transitions the connection to the terminal faulted state, fails all
// pending sends with the originating error, and closes the socket.
func (c *Connection) fault(err error) {
	c.mu.Lock()
	state := c.State()
	if state == StateFaulted || state == StateClosed || state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.faultErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.setState(StateFaulted, err.Error())

	for _, slot := range pending {
		slot <- sendResult{err: err}
	}

	_ = c.auditLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   c.remoteAddr,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "deframing loop",
		},
	})

	c.conn.Close()
}

// hasPending reports whether any send awaits a response.
func (c *Connection) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// removeSlot drops a pending slot that will no longer be consumed.
func (c *Connection) removeSlot(slot chan sendResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.pending {
		if s == slot {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// setState records a state transition in the audit log.
func (c *Connection) setState(newState ConnectionState, reason string) {
	oldState := ConnectionState(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	_ = c.auditLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

// makeMessageEvent creates an audit event for decoded message text.
func (c *Connection) makeMessageEvent(text string, direction log.Direction) log.Event {
	truncated := false
	if len(text) > MaxLogFrameDataSize {
		text = text[:MaxLogFrameDataSize]
		truncated = true
	}
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    direction,
		Layer:        log.LayerMessage,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.remoteAddr,
		Message: &log.MessageEvent{
			Text:      text,
			Encoding:  normalizeEncoding(c.config.Encoding),
			Truncated: truncated,
		},
	}
}
