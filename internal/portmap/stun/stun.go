// Package stun implements portmap.Prober: a read-only external-address
// observation over the STUN binding request/response exchange,
// distinct from UPnP/NAT-PMP in that it creates no mapping of its own
// and only reports whatever a NAT session already has open.
package stun

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/stun"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
)

// Sentinel errors.
var (
	ErrNoServers = errors.New("stun: no servers configured")
	ErrTimeout   = errors.New("stun: request timed out")
)

// DefaultTimeout bounds a single STUN round trip.
const DefaultTimeout = 3 * time.Second

// DefaultRetries is how many times each server is retried, with
// exponential backoff, before Prober moves to the next server.
const DefaultRetries = 2

// DefaultCacheTTL is how long a successfully observed address is
// reused before Prober re-queries a server.
const DefaultCacheTTL = 5 * time.Minute

// Prober queries a list of STUN servers for this host's externally
// observed UDP address.
type Prober struct {
	Servers  []string
	Timeout  time.Duration
	Retries  int
	CacheTTL time.Duration

	mu         sync.Mutex
	cachedIP   string
	cachedPort uint16
	cachedAt   time.Time
}

var _ portmap.Prober = (*Prober)(nil)

// NewProber returns a Prober with the given servers and package
// defaults for timeout/retries/cache.
func NewProber(servers []string) *Prober {
	return &Prober{
		Servers:  servers,
		Timeout:  DefaultTimeout,
		Retries:  DefaultRetries,
		CacheTTL: DefaultCacheTTL,
	}
}

// Probe sends a Binding Request from localPort to each configured
// server in turn until one answers, returning the XOR-MAPPED-ADDRESS
// (falling back to the legacy MAPPED-ADDRESS) from the response.
func (p *Prober) Probe(ctx context.Context, localPort uint16) (string, uint16, error) {
	if ip, port, ok := p.cached(); ok {
		return ip, port, nil
	}
	if len(p.Servers) == 0 {
		return "", 0, ErrNoServers
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := p.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	var lastErr error
	for _, server := range p.Servers {
		for attempt := 0; attempt <= retries; attempt++ {
			ip, port, err := p.query(ctx, server, localPort, timeout)
			if err == nil {
				p.setCached(ip, port)
				return ip, port, nil
			}
			lastErr = err

			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrTimeout
	}
	return "", 0, lastErr
}

func (p *Prober) query(ctx context.Context, server string, localPort uint16, timeout time.Duration) (string, uint16, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return "", 0, err
	}

	localAddr := &net.UDPAddr{Port: int(localPort)}
	conn, err := net.DialUDP("udp", localAddr, serverAddr)
	if err != nil {
		return "", 0, err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return "", 0, err
	}
	if _, err := req.WriteTo(conn); err != nil {
		return "", 0, err
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return "", 0, err
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return "", 0, err
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return xorAddr.IP.String(), uint16(xorAddr.Port), nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err == nil {
		return mapped.IP.String(), uint16(mapped.Port), nil
	}

	return "", 0, errors.New("stun: response carried no mapped address")
}

func (p *Prober) cached() (string, uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedIP == "" || time.Since(p.cachedAt) >= p.effectiveCacheTTL() {
		return "", 0, false
	}
	return p.cachedIP, p.cachedPort, true
}

func (p *Prober) setCached(ip string, port uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cachedIP = ip
	p.cachedPort = port
	p.cachedAt = time.Now()
}

func (p *Prober) effectiveCacheTTL() time.Duration {
	if p.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return p.CacheTTL
}
