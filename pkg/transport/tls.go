package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// DefaultPort is the IANA-registered HL7 MLLP port.
const DefaultPort = 2575

// TLSConfig holds configuration for MLLP TLS connections.
// A nil TLSConfig on a connection or listener means plaintext TCP.
type TLSConfig struct {
	// Certificates is the certificate set for this endpoint: the client
	// certificate collection on the sending side, the server certificate on
	// the listening side.
	Certificates []tls.Certificate

	// RootCAs is the pool of trusted CA certificates used by clients to
	// verify the listener's certificate.
	RootCAs *x509.CertPool

	// ClientCAs is the pool of CA certificates used by listeners to verify
	// client certificates. Setting it enables mutual authentication.
	ClientCAs *x509.CertPool

	// ServerName is the expected server name for client connections.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool

	// VerifyPeerCertificate is an optional callback for custom remote
	// certificate validation, invoked after the built-in verification.
	VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewClientTLSConfig creates a TLS configuration for the client role.
// Negotiation is restricted to TLS 1.1 and 1.2, the window deployed MLLP
// peers interoperate on.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificates) == 0 {
		return nil, fmt.Errorf("client certificate set is required")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS11,
		MaxVersion: tls.VersionTLS12,

		Certificates: cfg.Certificates,
		RootCAs:      cfg.RootCAs,
		ServerName:   cfg.ServerName,

		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
		InsecureSkipVerify:    cfg.InsecureSkipVerify,
	}, nil
}

// NewServerTLSConfig creates a TLS configuration for the listener role.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificates) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS11,
		MaxVersion: tls.VersionTLS12,

		Certificates: cfg.Certificates,
		ClientCAs:    cfg.ClientCAs,

		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
	}

	// Mutual authentication when a client CA pool is supplied.
	if cfg.ClientCAs != nil {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	// For testing only
	if cfg.InsecureSkipVerify {
		tlsConfig.ClientAuth = tls.RequestClientCert
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// VerifyTLSVersion checks that a negotiated connection is TLS 1.1 or 1.2.
func VerifyTLSVersion(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS11 && state.Version != tls.VersionTLS12 {
		return fmt.Errorf("TLS version %x is not 1.1 or 1.2", state.Version)
	}
	return nil
}
