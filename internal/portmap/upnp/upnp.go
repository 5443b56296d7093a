// Package upnp implements portmap.Mapper over UPnP Internet Gateway
// Device profiles, cascading through the two IGD generations the way a
// real router population requires.
package upnp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
	"github.com/dep2p/nat-traversal-sim/internal/util/logger"
)

var log = logger.Logger("portmap/upnp")

// DefaultDiscoveryTimeout bounds how long Discover waits for an IGD to
// answer; goupnp's own SSDP search can otherwise block for seconds.
const DefaultDiscoveryTimeout = 3 * time.Second

// DefaultLeaseDuration is requested when the caller asks for lifetime
// zero ("use the mapper's default").
const DefaultLeaseDuration = time.Hour

// igdClient is the subset of goupnp's WANIPConnection/WANPPPConnection
// clients this package needs; every IGDv1/v2 client generated by
// goupnp implements it.
type igdClient interface {
	AddPortMapping(NewRemoteHost string, NewExternalPort uint16, NewProtocol string, NewInternalPort uint16, NewInternalClient string, NewEnabled bool, NewPortMappingDescription string, NewLeaseDuration uint32) error
	DeletePortMapping(NewRemoteHost string, NewExternalPort uint16, NewProtocol string) error
	GetExternalIPAddress() (string, error)
}

// Mapper is a portmap.Mapper backed by a discovered IGD client.
type Mapper struct {
	client igdClient

	// localIP resolves the address to advertise as NewInternalClient.
	// Defaults to outboundIP; overridable in tests.
	localIP func() (net.IP, error)

	mu       sync.Mutex
	mappings map[uint16]portmap.Mapping
}

var _ portmap.Mapper = (*Mapper)(nil)

// Discover searches the local network for a UPnP IGD, trying IGDv2's
// WANIPConnection1 and WANPPPConnection1 profiles before falling back
// to the corresponding IGDv1 profiles, and gives up after timeout (use
// zero for DefaultDiscoveryTimeout).
func Discover(ctx context.Context, timeout time.Duration) (*Mapper, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		client igdClient
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		client, err := discoverClient()
		resultCh <- result{client, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return &Mapper{client: res.client, mappings: make(map[uint16]portmap.Mapping)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func discoverClient() (igdClient, error) {
	if clients, _, err := internetgateway2.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	if clients, _, err := internetgateway1.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return clients[0], nil
	}
	return nil, portmap.ErrNoDevice
}

// Map requests an external mapping equal to internalPort (UPnP has no
// concept of "pick any free port" in this client surface, so this
// mapper always asks for the same number externally and reports
// whatever the gateway actually granted back via GetExternalIPAddress).
func (m *Mapper) Map(ctx context.Context, internalPort uint16, lifetime time.Duration) (portmap.Mapping, error) {
	if lifetime <= 0 {
		lifetime = DefaultLeaseDuration
	}

	resolveLocalIP := m.localIP
	if resolveLocalIP == nil {
		resolveLocalIP = outboundIP
	}
	localIP, err := resolveLocalIP()
	if err != nil {
		return portmap.Mapping{}, &portmap.MappingError{Op: "map", Protocol: "udp", Port: internalPort, Cause: err}
	}

	err = m.client.AddPortMapping(
		"",
		internalPort,
		"UDP",
		internalPort,
		localIP.String(),
		true,
		"nat-traversal-sim",
		uint32(lifetime.Seconds()),
	)
	if err != nil {
		return portmap.Mapping{}, &portmap.MappingError{Op: "map", Protocol: "udp", Port: internalPort, Cause: err}
	}

	extIP, err := m.client.GetExternalIPAddress()
	if err != nil {
		log.Warn("mapped but could not read external IP", "err", err)
	}

	mapping := portmap.Mapping{
		Protocol:     "udp",
		InternalPort: internalPort,
		ExternalPort: internalPort,
		ExternalIP:   extIP,
		Lifetime:     lifetime,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.mappings[internalPort] = mapping
	m.mu.Unlock()

	log.Debug("mapped port via UPnP", "internalPort", internalPort, "externalIP", extIP)
	return mapping, nil
}

// Unmap deletes a previously requested mapping.
func (m *Mapper) Unmap(ctx context.Context, externalPort uint16) error {
	if err := m.client.DeletePortMapping("", externalPort, "UDP"); err != nil {
		return &portmap.MappingError{Op: "unmap", Protocol: "udp", Port: externalPort, Cause: err}
	}
	m.mu.Lock()
	delete(m.mappings, externalPort)
	m.mu.Unlock()
	return nil
}

// Close is a no-op: goupnp's generated clients hold no long-lived
// resources beyond the HTTP client already owned by net/http's
// default transport.
func (m *Mapper) Close() error { return nil }

func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
