package transport_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mllp-protocol/mllp-go/pkg/transport"
)

func startServer(t *testing.T, config transport.ServerConfig) *transport.Server {
	t.Helper()

	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}
	server, err := transport.NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func echoHandler(prefix string) transport.HandlerFunc {
	return func(ctx context.Context, msg transport.Message) (string, error) {
		return prefix + msg.Text(), nil
	}
}

func TestServerRequiresHandler(t *testing.T) {
	if _, err := transport.NewServer(transport.ServerConfig{}); err == nil {
		t.Error("expected error for missing handler")
	}

	_, err := transport.NewServer(transport.ServerConfig{
		Handler:  echoHandler(""),
		Encoding: "EBCDIC",
	})
	if err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestServerRequestResponse(t *testing.T) {
	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler("ACK:"),
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	framer := transport.NewFramer(conn)

	// One socket serves repeated request/response cycles.
	for i := 0; i < 3; i++ {
		request := fmt.Sprintf("request-%d", i)
		if err := framer.WriteFrame([]byte(request)); err != nil {
			t.Fatalf("Failed to write frame: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		response, err := framer.ReadFrame()
		if err != nil {
			t.Fatalf("Failed to read response: %v", err)
		}
		if got, want := string(response), "ACK:"+request; got != want {
			t.Errorf("response = %q, want %q", got, want)
		}
	}
}

func TestServerMultiplePeers(t *testing.T) {
	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler("ACK:"),
	})

	const peers = 4
	var wg sync.WaitGroup
	errs := make(chan error, peers)

	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			conn, err := transport.Connect(context.Background(), server.Addr().String(), transport.ConnectionConfig{})
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			request := fmt.Sprintf("peer-%d", id)
			msg, err := conn.Send(context.Background(), request)
			if err != nil {
				errs <- err
				return
			}
			if msg.Text() != "ACK:"+request {
				errs <- fmt.Errorf("peer %d got %q", id, msg.Text())
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServerHandlerErrorClosesOnlyThatPeer(t *testing.T) {
	var errorsMu sync.Mutex
	var reported []error

	server := startServer(t, transport.ServerConfig{
		Handler: func(ctx context.Context, msg transport.Message) (string, error) {
			if strings.HasPrefix(msg.Text(), "fail") {
				return "", fmt.Errorf("no handler for %s", msg.Text())
			}
			return "ACK:" + msg.Text(), nil
		},
		OnError: func(conn *transport.ServerConn, err error) {
			errorsMu.Lock()
			reported = append(reported, err)
			errorsMu.Unlock()
		},
	})

	bad, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer bad.Close()

	good, err := transport.Connect(context.Background(), server.Addr().String(), transport.ConnectionConfig{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer good.Close()

	// The failing peer gets its socket closed without a response.
	badFramer := transport.NewFramer(bad)
	if err := badFramer.WriteFrame([]byte("fail-me")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := badFramer.ReadFrame(); err != io.EOF {
		t.Errorf("expected EOF on failing peer, got %v", err)
	}

	// The other peer keeps working.
	msg, err := good.Send(context.Background(), "still fine")
	if err != nil {
		t.Fatalf("Send on healthy peer failed: %v", err)
	}
	if msg.Text() != "ACK:still fine" {
		t.Errorf("response = %q", msg.Text())
	}

	errorsMu.Lock()
	defer errorsMu.Unlock()
	if len(reported) != 1 {
		t.Errorf("OnError called %d times, want 1", len(reported))
	}
}

func TestServerCallbacks(t *testing.T) {
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)

	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler(""),
		OnConnect: func(conn *transport.ServerConn) {
			connected <- conn.ConnID()
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			disconnected <- conn.ConnID()
		},
	})

	conn, err := transport.Connect(context.Background(), server.Addr().String(), transport.ConnectionConfig{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var connID string
	select {
	case connID = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect never fired")
	}
	if connID == "" {
		t.Error("expected non-empty connection ID")
	}
	if server.ConnectionCount() != 1 {
		t.Errorf("connection count = %d, want 1", server.ConnectionCount())
	}

	conn.Close()

	select {
	case id := <-disconnected:
		if id != connID {
			t.Errorf("disconnect ID = %q, want %q", id, connID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect never fired")
	}
}

func TestServerStop(t *testing.T) {
	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler(""),
	})
	addr := server.Addr().String()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The peer socket is closed by shutdown.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := transport.NewFrameReader(conn).ReadFrame(); err == nil {
		t.Error("expected read failure after shutdown")
	}

	if server.ConnectionCount() != 0 {
		t.Errorf("connection count = %d after stop, want 0", server.ConnectionCount())
	}

	// New dials are refused.
	if c, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		c.Close()
		t.Error("expected dial to fail after stop")
	}
}

func TestServerTLS(t *testing.T) {
	certDER, keyDER := generateTestCert(t)
	serverCert := loadCert(t, certDER, keyDER)

	clientCertDER, clientKeyDER := generateTestCert(t)
	clientCert := loadCert(t, clientCertDER, clientKeyDER)

	pool := x509.NewCertPool()
	pool.AddCert(parseCert(t, certDER))
	clientPool := x509.NewCertPool()
	clientPool.AddCert(parseCert(t, clientCertDER))

	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler("ACK:"),
		TLS: &transport.TLSConfig{
			Certificates: []tls.Certificate{serverCert},
			ClientCAs:    clientPool,
		},
	})

	conn, err := transport.Connect(context.Background(), server.Addr().String(), transport.ConnectionConfig{
		TLS: &transport.TLSConfig{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      pool,
			ServerName:   "test",
		},
	})
	if err != nil {
		t.Fatalf("TLS connect failed: %v", err)
	}
	defer conn.Close()

	msg, err := conn.Send(context.Background(), "secure")
	if err != nil {
		t.Fatalf("Send over TLS failed: %v", err)
	}
	if msg.Text() != "ACK:secure" {
		t.Errorf("response = %q, want %q", msg.Text(), "ACK:secure")
	}
}

func TestServerTLSRejectsPlaintextClient(t *testing.T) {
	certDER, keyDER := generateTestCert(t)

	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler(""),
		TLS: &transport.TLSConfig{
			Certificates:       []tls.Certificate{loadCert(t, certDER, keyDER)},
			InsecureSkipVerify: true,
		},
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	// A raw MLLP frame is not a TLS ClientHello; the exchange fails.
	framer := transport.NewFramer(conn)
	framer.WriteFrame([]byte("plaintext"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if payload, err := framer.ReadFrame(); err == nil {
		t.Errorf("expected failure, got payload %q", payload)
	}
}

func TestServerTLSHandshakeFailureReportsPeer(t *testing.T) {
	certDER, keyDER := generateTestCert(t)
	pool := x509.NewCertPool()
	pool.AddCert(parseCert(t, certDER))

	type report struct {
		connID string
		remote string
		err    error
	}
	reports := make(chan report, 1)

	server := startServer(t, transport.ServerConfig{
		Handler: echoHandler("ACK:"),
		TLS: &transport.TLSConfig{
			Certificates:       []tls.Certificate{loadCert(t, certDER, keyDER)},
			InsecureSkipVerify: true,
		},
		OnError: func(conn *transport.ServerConn, err error) {
			// Dereferences the peer the way a logging callback would.
			reports <- report{connID: conn.ConnID(), remote: conn.RemoteAddr(), err: err}
		},
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	transport.NewFramer(conn).WriteFrame([]byte("plaintext"))

	select {
	case r := <-reports:
		if r.connID == "" {
			t.Error("expected non-empty connection ID for failed handshake")
		}
		if r.remote == "" {
			t.Error("expected non-empty remote address for failed handshake")
		}
		if r.err == nil {
			t.Error("expected handshake error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired for failed handshake")
	}

	// The failed handshake does not take the listener down.
	good, err := transport.Connect(context.Background(), server.Addr().String(), transport.ConnectionConfig{
		TLS: &transport.TLSConfig{
			Certificates: []tls.Certificate{loadCert(t, certDER, keyDER)},
			RootCAs:      pool,
			ServerName:   "test",
		},
	})
	if err != nil {
		t.Fatalf("TLS connect after failed handshake: %v", err)
	}
	defer good.Close()

	msg, err := good.Send(context.Background(), "alive")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Text() != "ACK:alive" {
		t.Errorf("response = %q, want %q", msg.Text(), "ACK:alive")
	}
}

// Helper functions

func generateTestCert(t *testing.T) ([]byte, []byte) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"test"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	return certDER, keyDER
}

func loadCert(t *testing.T, certDER, keyDER []byte) tls.Certificate {
	t.Helper()

	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}
}

func parseCert(t *testing.T, certDER []byte) *x509.Certificate {
	t.Helper()

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}
