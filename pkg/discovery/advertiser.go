package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// DNS-SD constants for MLLP listeners.
const (
	// ServiceType is the DNS-SD service type for MLLP endpoints.
	ServiceType = "_mllp._tcp"

	// Domain is the DNS-SD domain.
	Domain = "local."
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}

// Info describes the advertised listener.
type Info struct {
	// InstanceName is the service instance name (e.g. the facility name).
	InstanceName string

	// Port is the listener's TCP port.
	Port int

	// Version is the HL7 version hint published in TXT records.
	Version string

	// TLS indicates the listener requires a TLS handshake.
	TLS bool
}

// Advertiser publishes an MLLP listener via mDNS/DNS-SD.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates a new mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// getInterfaces returns the network interfaces to advertise on.
// Returns nil to use all interfaces.
func (a *Advertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts advertising the listener. A previous advertisement is
// replaced.
func (a *Advertiser) Advertise(info *Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		fmt.Sprintf("hl7=%s", info.Version),
	}
	if info.TLS {
		txt = append(txt, "tls=1")
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.InstanceName,
		ServiceType,
		Domain,
		info.Port,
		txt,
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register mllp service: %w", err)
	}

	a.server = server
	return nil
}

// Shutdown stops the advertisement.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
