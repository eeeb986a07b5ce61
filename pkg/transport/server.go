package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mllp-protocol/mllp-go/pkg/log"
)

// HandlerFunc processes one decoded inbound message and returns the response
// text to frame and write back. Returning an error terminates that peer's
// loop; other peers are unaffected.
type HandlerFunc func(ctx context.Context, msg Message) (string, error)

// ServerConfig configures an MLLP listener.
type ServerConfig struct {
	// Address to listen on (e.g., ":2575" or "127.0.0.1:2575").
	Address string

	// Handler dispatches each decoded inbound message. Required.
	Handler HandlerFunc

	// TLS enables a TLS server handshake per accepted socket. Nil means
	// plaintext.
	TLS *TLSConfig

	// Encoding is the charset message text is carried in (default: UTF-8).
	Encoding string

	// AuditLog records inbound/outbound messages, state changes and errors.
	// Nil disables audit logging.
	AuditLog log.Logger

	// MaxMessageSize is the maximum payload size (default: 1MB).
	MaxMessageSize uint32

	// OnConnect is called when a peer connection is established (optional).
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a peer connection closes (optional).
	OnDisconnect func(conn *ServerConn)

	// OnError is called when a peer's handshake or loop fails (optional).
	// conn is never nil.
	OnError func(conn *ServerConn, err error)

	// OnListenerError is called when accepting a connection fails
	// (optional). No peer exists at that point.
	OnListenerError func(err error)
}

// Server is an MLLP listener. It accepts connections and runs one
// request/response loop per peer; a peer's loop serves as many exchanges as
// its socket stays open for.
type Server struct {
	config   ServerConfig
	tlsConf  *tls.Config
	auditLog log.Logger
	listener net.Listener

	// Active peer connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new MLLP listener.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Encoding == "" {
		config.Encoding = DefaultEncoding
	}
	if _, err := lookupEncoding(config.Encoding); err != nil {
		return nil, err
	}

	var tlsConf *tls.Config
	if config.TLS != nil {
		var err error
		tlsConf, err = NewServerTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	auditLog := config.AuditLog
	if auditLog == nil {
		auditLog = log.NoopLogger{}
	}

	return &Server{
		config:   config,
		tlsConf:  tlsConf,
		auditLog: auditLog,
		conns:    make(map[*ServerConn]struct{}),
	}, nil
}

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.running.Store(true)
	s.logListenerState("", "LISTENING")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops accepting and disposes every live peer connection.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logListenerState("LISTENING", "STOPPED")

	return nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active peer connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections until stopped.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				if s.config.OnListenerError != nil {
					s.config.OnListenerError(fmt.Errorf("accept error: %w", err))
				}
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs one peer's handshake and request/response loop.
// Failures here are isolated to this peer.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	remoteAddr := conn.RemoteAddr().String()

	sconn := &ServerConn{
		conn:       conn,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: remoteAddr,
		connID:     connID,
	}
	defer sconn.Close()

	if s.tlsConf != nil {
		tlsConn := tls.Server(conn, s.tlsConf)
		if err := tlsConn.HandshakeContext(s.ctx); err != nil {
			sconn.reportError(fmt.Errorf("TLS handshake failed: %w", err))
			return
		}
		if err := VerifyTLSVersion(tlsConn.ConnectionState()); err != nil {
			sconn.reportError(err)
			return
		}
		conn = tlsConn
		sconn.conn = tlsConn
	}

	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	framer.SetLogger(s.auditLog, connID, remoteAddr)
	sconn.framer = framer

	s.logConnState(sconn, "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.serveLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logConnState(sconn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// logListenerState records a listener state change in the audit log.
func (s *Server) logListenerState(oldState, newState string) {
	_ = s.auditLog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityListener,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// logConnState records a peer connection state change in the audit log.
func (s *Server) logConnState(c *ServerConn, oldState, newState string) {
	_ = s.auditLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// ServerConn represents one accepted peer connection.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr string
	connID     string

	writeMu sync.Mutex
}

// RemoteAddr returns the peer's address.
func (c *ServerConn) RemoteAddr() string {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Close closes the peer connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// serveLoop deframes one payload at a time, dispatches it, and writes the
// framed response back. It repeats for as long as the socket stays open.
func (c *ServerConn) serveLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		payload, err := c.framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return // peer closed between exchanges
			}
			c.reportError(fmt.Errorf("read failed: %w", err))
			return
		}

		text, err := DecodeText(c.server.config.Encoding, payload)
		if err != nil {
			c.reportError(err)
			return
		}

		msg := NewMessage(text, c.server.config.Encoding, c.remoteAddr)
		_ = c.server.auditLog.Log(c.makeMessageEvent(text, log.DirectionIn))

		response, err := c.server.config.Handler(c.server.ctx, msg)
		if err != nil {
			c.reportError(fmt.Errorf("dispatch failed: %w", err))
			return
		}

		respPayload, err := EncodeText(c.server.config.Encoding, response)
		if err != nil {
			c.reportError(err)
			return
		}

		// Response is logged before it hits the socket, mirroring the
		// client-side send ordering.
		if err := c.server.auditLog.Log(c.makeMessageEvent(response, log.DirectionOut)); err != nil {
			c.reportError(fmt.Errorf("audit log write failed: %w", err))
			return
		}

		if err := c.send(respPayload); err != nil {
			c.reportError(fmt.Errorf("write failed: %w", err))
			return
		}
	}
}

// send writes one framed payload to the peer.
func (c *ServerConn) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(payload)
}

// reportError logs a peer loop failure unless the peer or server is already
// shutting down.
func (c *ServerConn) reportError(err error) {
	select {
	case <-c.closeCh:
		return
	case <-c.server.ctx.Done():
		return
	default:
	}

	_ = c.server.auditLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   c.remoteAddr,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "peer loop",
		},
	})

	if c.server.config.OnError != nil && c.server.running.Load() {
		c.server.config.OnError(c, err)
	}
}

// makeMessageEvent creates an audit event for decoded message text.
func (c *ServerConn) makeMessageEvent(text string, direction log.Direction) log.Event {
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
			Encoding:  normalizeEncoding(c.server.config.Encoding),
			Truncated: truncated,
		},
	}
}
