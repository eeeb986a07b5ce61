// Command mllp-send sends HL7 v2 messages to an MLLP listener.
//
// In one-shot mode it reads a message from a file or stdin, sends it over a
// single connection, prints the acknowledgement, and exits. In interactive
// mode it keeps the connection open and sends message files on demand, which
// exercises repeated request/response cycles on one socket.
//
// Message files may use LF or CRLF line endings; lines are converted to the
// carriage-return segment separators HL7 requires on the wire.
//
// Usage:
//
//	mllp-send [flags] [message-file]
//
// Flags:
//
//	-address string      Listener address (default "localhost:2575")
//	-encoding string     Message text charset (default "UTF-8")
//	-audit-log string    Write an audit log to this .mlog file
//	-timeout duration    Per-send timeout (default 30s)
//	-interactive         Keep the connection open and send files on demand
//	-tls                 Connect with TLS
//	-tls-cert string     Client certificate file (PEM)
//	-tls-key string      Client private key file (PEM)
//	-tls-ca string       CA bundle for server certificate verification (PEM)
//	-tls-server-name string  Expected server name
//	-insecure            Skip server certificate verification (testing only)
//
// Examples:
//
//	# Send one message and print the acknowledgement
//	mllp-send -address hospital:2575 adt_a01.hl7
//
//	# Send from stdin
//	cat adt_a01.hl7 | mllp-send
//
//	# Interactive session over TLS
//	mllp-send -interactive -tls -tls-cert client.pem -tls-key client.key -tls-ca ca.pem
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mllp-protocol/mllp-go/pkg/log"
	"github.com/mllp-protocol/mllp-go/pkg/transport"
)

func main() {
	var (
		address       = flag.String("address", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Listener address")
		encoding      = flag.String("encoding", "", "Message text charset")
		auditLogPath  = flag.String("audit-log", "", "Write an audit log to this .mlog file")
		timeout       = flag.Duration("timeout", 30*time.Second, "Per-send timeout")
		interactive   = flag.Bool("interactive", false, "Keep the connection open and send files on demand")
		useTLS        = flag.Bool("tls", false, "Connect with TLS")
		tlsCert       = flag.String("tls-cert", "", "Client certificate file (PEM)")
		tlsKey        = flag.String("tls-key", "", "Client private key file (PEM)")
		tlsCA         = flag.String("tls-ca", "", "CA bundle for server certificate verification (PEM)")
		tlsServerName = flag.String("tls-server-name", "", "Expected server name")
		insecure      = flag.Bool("insecure", false, "Skip server certificate verification (testing only)")
	)
	flag.Parse()

	tlsConfig, err := buildTLSConfig(*useTLS, *tlsCert, *tlsKey, *tlsCA, *tlsServerName, *insecure)
	if err != nil {
		fatal(err)
	}

	config := transport.ConnectionConfig{
		TLS:      tlsConfig,
		Encoding: *encoding,
	}

	var closeAudit func()
	config.AuditLog, closeAudit, err = buildAuditLog(*auditLogPath)
	if err != nil {
		fatal(err)
	}
	defer closeAudit()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	conn, err := transport.Connect(ctx, *address, config)
	cancel()
	if err != nil {
		fatal(fmt.Errorf("failed to connect to %s: %w", *address, err))
	}
	defer conn.Close()

	if *interactive {
		if err := runInteractive(conn, *timeout); err != nil {
			fatal(err)
		}
		return
	}

	text, err := readMessage(flag.Arg(0))
	if err != nil {
		fatal(err)
	}

	response, err := sendOnce(conn, text, *timeout)
	if err != nil {
		fatal(err)
	}
	fmt.Println(displayText(response))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// readMessage loads message text from the file, or from stdin when no path
// is given.
func readMessage(path string) (string, error) {
	var data []byte
	var err error

	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	text := normalizeMessage(string(data))
	if text == "" {
		return "", fmt.Errorf("message is empty")
	}
	return text, nil
}

// normalizeMessage converts file line endings to the carriage-return segment
// separators used on the wire and drops trailing blank lines.
func normalizeMessage(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")
	return strings.TrimRight(text, "\r")
}

// displayText converts wire segment separators back to newlines for output.
func displayText(text string) string {
	return strings.ReplaceAll(text, "\r", "\n")
}

func sendOnce(conn *transport.Connection, text string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	msg, err := conn.Send(ctx, text)
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	return msg.Text(), nil
}

func buildAuditLog(path string) (log.Logger, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	fileLogger, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return fileLogger, func() { fileLogger.Close() }, nil
}

func buildTLSConfig(useTLS bool, certFile, keyFile, caFile, serverName string, insecure bool) (*transport.TLSConfig, error) {
	if !useTLS {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("both tls-cert and tls-key are required for TLS")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	tlsConfig := &transport.TLSConfig{
		Certificates:       []tls.Certificate{cert},
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
