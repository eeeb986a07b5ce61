// Command mllp-listen is a reference MLLP listener.
//
// It accepts MLLP-framed HL7 v2 messages, routes each one to a registered
// transaction by (version, message structure), and answers with an
// acknowledgement. Transactions registered here acknowledge unconditionally;
// the command exists to exercise and observe the transport, not to implement
// clinical workflows.
//
// Usage:
//
//	mllp-listen [flags]
//
// Flags:
//
//	-config string       Configuration file path (YAML)
//	-address string      Listen address (default ":2575")
//	-ack string          Comma-separated version/structure keys to acknowledge
//	                     (default "2.5/ADT_A01")
//	-encoding string     Message text charset (default "UTF-8")
//	-audit-log string    Write an audit log to this .mlog file
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-tls-cert string     TLS certificate file (PEM)
//	-tls-key string      TLS private key file (PEM)
//	-tls-client-ca string  CA bundle for client certificate verification (PEM)
//	-mdns                Advertise the listener via mDNS/DNS-SD
//	-instance string     mDNS instance name (default "MLLP Listener")
//
// Examples:
//
//	# Plaintext listener acknowledging ADT A01 and ORU R01
//	mllp-listen -ack "2.5/ADT_A01,2.5/ORU_R01" -audit-log listener.mlog
//
//	# TLS listener with mutual authentication
//	mllp-listen -tls-cert server.pem -tls-key server.key -tls-client-ca clients.pem
//
//	# Configuration file
//	mllp-listen -config /etc/mllp/listener.yaml
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mllp-protocol/mllp-go/pkg/discovery"
	"github.com/mllp-protocol/mllp-go/pkg/dispatch"
	"github.com/mllp-protocol/mllp-go/pkg/hl7"
	mllplog "github.com/mllp-protocol/mllp-go/pkg/log"
	"github.com/mllp-protocol/mllp-go/pkg/transport"
)

// Config holds the listener configuration. Flag values override file values.
type Config struct {
	Address        string `yaml:"address"`
	Encoding       string `yaml:"encoding"`
	MaxMessageSize uint32 `yaml:"max_message_size"`
	AuditLog       string `yaml:"audit_log"`
	LogLevel       string `yaml:"log_level"`

	TLS struct {
		CertFile     string `yaml:"cert_file"`
		KeyFile      string `yaml:"key_file"`
		ClientCAFile string `yaml:"client_ca_file"`
	} `yaml:"tls"`

	MDNS struct {
		Enabled      bool   `yaml:"enabled"`
		InstanceName string `yaml:"instance_name"`
	} `yaml:"mdns"`

	// Transactions lists the version/structure keys to acknowledge.
	Transactions []TransactionConfig `yaml:"transactions"`
}

// TransactionConfig is one registered acknowledgement key.
type TransactionConfig struct {
	Version   string `yaml:"version"`
	Structure string `yaml:"structure"`
}

func main() {
	var (
		configFile   = flag.String("config", "", "Configuration file path (YAML)")
		address      = flag.String("address", "", "Listen address")
		ackKeys      = flag.String("ack", "", "Comma-separated version/structure keys to acknowledge")
		encoding     = flag.String("encoding", "", "Message text charset")
		auditLogPath = flag.String("audit-log", "", "Write an audit log to this .mlog file")
		logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
		tlsCert      = flag.String("tls-cert", "", "TLS certificate file (PEM)")
		tlsKey       = flag.String("tls-key", "", "TLS private key file (PEM)")
		tlsClientCA  = flag.String("tls-client-ca", "", "CA bundle for client certificate verification (PEM)")
		mdnsEnabled  = flag.Bool("mdns", false, "Advertise the listener via mDNS/DNS-SD")
		instanceName = flag.String("instance", "", "mDNS instance name")
	)
	flag.Parse()

	config, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file.
	if *address != "" {
		config.Address = *address
	}
	if *encoding != "" {
		config.Encoding = *encoding
	}
	if *auditLogPath != "" {
		config.AuditLog = *auditLogPath
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	if *tlsCert != "" {
		config.TLS.CertFile = *tlsCert
	}
	if *tlsKey != "" {
		config.TLS.KeyFile = *tlsKey
	}
	if *tlsClientCA != "" {
		config.TLS.ClientCAFile = *tlsClientCA
	}
	if *mdnsEnabled {
		config.MDNS.Enabled = true
	}
	if *instanceName != "" {
		config.MDNS.InstanceName = *instanceName
	}
	if *ackKeys != "" {
		config.Transactions = nil
		for _, key := range strings.Split(*ackKeys, ",") {
			version, structure, ok := strings.Cut(strings.TrimSpace(key), "/")
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: invalid -ack key %q (want version/structure)\n", key)
				os.Exit(1)
			}
			config.Transactions = append(config.Transactions, TransactionConfig{
				Version:   version,
				Structure: structure,
			})
		}
	}
	applyDefaults(&config)

	logger := newLogger(config.LogLevel)

	if err := run(config, logger); err != nil {
		logger.Error("listener failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (Config, error) {
	var config Config
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.MDNS.InstanceName == "" {
		config.MDNS.InstanceName = "MLLP Listener"
	}
	if len(config.Transactions) == 0 {
		config.Transactions = []TransactionConfig{{Version: "2.5", Structure: "ADT_A01"}}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(config Config, logger *slog.Logger) error {
	auditLog, closeAudit, err := buildAuditLog(config, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	dispatcher, err := buildDispatcher(config)
	if err != nil {
		return err
	}

	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return err
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Address:        config.Address,
		Encoding:       config.Encoding,
		AuditLog:       auditLog,
		MaxMessageSize: config.MaxMessageSize,
		TLS:            tlsConfig,
		Handler: func(ctx context.Context, msg transport.Message) (string, error) {
			return dispatcher.Handle(ctx, msg.Text())
		},
		OnConnect: func(conn *transport.ServerConn) {
			logger.Info("peer connected", "conn_id", conn.ConnID(), "remote", conn.RemoteAddr())
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			logger.Info("peer disconnected", "conn_id", conn.ConnID(), "remote", conn.RemoteAddr())
		},
		OnError: func(conn *transport.ServerConn, err error) {
			logger.Warn("peer failed", "conn_id", conn.ConnID(), "remote", conn.RemoteAddr(), "error", err)
		},
		OnListenerError: func(err error) {
			logger.Warn("accept failed", "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	logger.Info("listening", "address", server.Addr().String(),
		"tls", tlsConfig != nil, "transactions", len(config.Transactions))

	if config.MDNS.Enabled {
		advertiser := discovery.NewAdvertiser(discovery.DefaultAdvertiserConfig())
		defer advertiser.Shutdown()

		if err := advertise(advertiser, config, server.Addr(), tlsConfig != nil); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			logger.Info("advertising via mDNS", "instance", config.MDNS.InstanceName)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return server.Stop()
}

func buildAuditLog(config Config, logger *slog.Logger) (mllplog.Logger, func(), error) {
	loggers := []mllplog.Logger{mllplog.NewSlogAdapter(logger)}
	closeAudit := func() {}

	if config.AuditLog != "" {
		fileLogger, err := mllplog.NewFileLogger(config.AuditLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		loggers = append(loggers, fileLogger)
		closeAudit = func() { fileLogger.Close() }
	}

	return mllplog.NewMultiLogger(loggers...), closeAudit, nil
}

func buildDispatcher(config Config) (*dispatch.Dispatcher, error) {
	transactions := make([]*dispatch.Transaction, 0, len(config.Transactions))
	for _, tc := range config.Transactions {
		transactions = append(transactions, ackTransaction(tc.Version, tc.Structure))
	}

	dispatcher, err := dispatch.NewDispatcher(hl7.Codec{}, transactions...)
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}
	return dispatcher, nil
}

// ackTransaction acknowledges every message of the given key with AA.
func ackTransaction(version, structure string) *dispatch.Transaction {
	return &dispatch.Transaction{
		Version:   version,
		Structure: structure,
		Execute: func(ctx context.Context, msg *hl7.Message) (*hl7.Message, error) {
			return msg.Ack(hl7.AckAccept, ""), nil
		},
		FinalizeHeaders: func(resp *hl7.Message) *hl7.Message {
			resp.StampTimestamp(time.Now())
			resp.StampControlID(uuid.New().String()[:8])
			return resp
		},
	}
}

func buildTLSConfig(config Config) (*transport.TLSConfig, error) {
	if config.TLS.CertFile == "" && config.TLS.KeyFile == "" {
		return nil, nil
	}
	if config.TLS.CertFile == "" || config.TLS.KeyFile == "" {
		return nil, fmt.Errorf("both tls-cert and tls-key are required for TLS")
	}

	cert, err := tls.LoadX509KeyPair(config.TLS.CertFile, config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	tlsConfig := &transport.TLSConfig{
		Certificates: []tls.Certificate{cert},
	}

	if config.TLS.ClientCAFile != "" {
		pem, err := os.ReadFile(config.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", config.TLS.ClientCAFile)
		}
		tlsConfig.ClientCAs = pool
	}

	return tlsConfig, nil
}

func advertise(advertiser *discovery.Advertiser, config Config, addr net.Addr, usesTLS bool) error {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	version := ""
	if len(config.Transactions) > 0 {
		version = config.Transactions[0].Version
	}

	return advertiser.Advertise(&discovery.Info{
		InstanceName: config.MDNS.InstanceName,
		Port:         port,
		Version:      version,
		TLS:          usesTLS,
	})
}
