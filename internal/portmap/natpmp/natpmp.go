// Package natpmp implements portmap.Mapper over NAT-PMP, the lighter
// alternative to UPnP that several consumer routers answer much faster.
package natpmp

import (
	"context"
	"net"
	"sync"
	"time"

	gonatpmp "github.com/jackpal/go-nat-pmp"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
	"github.com/dep2p/nat-traversal-sim/internal/util/logger"
)

var log = logger.Logger("portmap/natpmp")

// DefaultTimeout bounds a single NAT-PMP round trip.
const DefaultTimeout = 2 * time.Second

// DefaultLeaseSeconds is requested when the caller asks for lifetime
// zero; NAT-PMP expresses lifetimes in whole seconds.
const DefaultLeaseSeconds = 3600

// client is the subset of gonatpmp.Client this package needs.
type client interface {
	AddPortMapping(protocol string, internalPort, requestedExternalPort, lifetime int) (*gonatpmp.AddPortMappingResult, error)
	GetExternalAddress() (*gonatpmp.GetExternalAddressResult, error)
}

// Mapper is a portmap.Mapper backed by a NAT-PMP client talking to a
// known gateway. Unlike UPnP, NAT-PMP has no network-wide discovery
// protocol of its own — the caller supplies the gateway's address,
// typically the host's default route.
type Mapper struct {
	client  client
	gateway net.IP

	mu       sync.Mutex
	mappings map[uint16]portmap.Mapping
}

var _ portmap.Mapper = (*Mapper)(nil)

// New creates a Mapper talking to gateway and verifies it actually
// answers NAT-PMP by requesting the external address once.
func New(ctx context.Context, gateway net.IP, timeout time.Duration) (*Mapper, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := gonatpmp.NewClientWithTimeout(gateway, timeout)

	resultCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		if _, err := c.GetExternalAddress(); err != nil {
			errCh <- err
			return
		}
		resultCh <- struct{}{}
	}()

	select {
	case <-resultCh:
		return &Mapper{client: c, gateway: gateway, mappings: make(map[uint16]portmap.Mapping)}, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, portmap.ErrNoDevice
	}
}

// Map requests an external UDP mapping for internalPort, preferring
// the same port number externally; the gateway is free to grant a
// different one, which is what gets returned.
func (m *Mapper) Map(ctx context.Context, internalPort uint16, lifetime time.Duration) (portmap.Mapping, error) {
	seconds := DefaultLeaseSeconds
	if lifetime > 0 {
		seconds = int(lifetime.Seconds())
	}

	result, err := m.client.AddPortMapping("udp", int(internalPort), int(internalPort), seconds)
	if err != nil {
		return portmap.Mapping{}, &portmap.MappingError{Op: "map", Protocol: "udp", Port: internalPort, Cause: err}
	}

	extIP := ""
	if addr, err := m.client.GetExternalAddress(); err == nil {
		extIP = net.IP(addr.ExternalIPAddress[:]).String()
	}

	mapping := portmap.Mapping{
		Protocol:     "udp",
		InternalPort: internalPort,
		ExternalPort: result.MappedExternalPort,
		ExternalIP:   extIP,
		Lifetime:     time.Duration(result.PortMappingLifetimeInSeconds) * time.Second,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.mappings[mapping.ExternalPort] = mapping
	m.mu.Unlock()

	log.Debug("mapped port via NAT-PMP", "internalPort", internalPort, "externalPort", mapping.ExternalPort)
	return mapping, nil
}

// Unmap asks the gateway to release externalPort by re-requesting a
// mapping with a zero lifetime, the NAT-PMP convention for deletion.
func (m *Mapper) Unmap(ctx context.Context, externalPort uint16) error {
	if _, err := m.client.AddPortMapping("udp", int(externalPort), int(externalPort), 0); err != nil {
		return &portmap.MappingError{Op: "unmap", Protocol: "udp", Port: externalPort, Cause: err}
	}
	m.mu.Lock()
	delete(m.mappings, externalPort)
	m.mu.Unlock()
	return nil
}

// Close is a no-op: the underlying client holds only a UDP socket that
// is closed per-call, not held open.
func (m *Mapper) Close() error { return nil }
