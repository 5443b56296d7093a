package peer

import (
	"context"
	"time"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// preliminaryTimeout bounds how long the port-mapping phase may block
// New before falling through to Ping/Pong-based NAT evaluation.
const preliminaryTimeout = 5 * time.Second

// Option configures optional Peer behavior not carried by types.Config,
// for collaborators that only exist on the real transport (there is no
// router to map a port on inside the simulator).
type Option func(*Peer)

// WithPortMapper enables the preliminary port-mapping phase: New will
// try m before entering NAT evaluation and record a successful mapping
// as MappedEndpoint. The mapping is not announced to other peers and
// does not change PublicEndpoint.
func WithPortMapper(m portmap.Mapper) Option {
	return func(p *Peer) { p.portMapper = m }
}

// WithPortProber sets a read-only fallback for the preliminary phase:
// if portMapper is unset or fails to obtain a mapping, New tries pr's
// observed address instead before falling through to NAT evaluation.
func WithPortProber(pr portmap.Prober) Option {
	return func(p *Peer) { p.portProber = pr }
}

// runPreliminaryPortMapping attempts to obtain a mapping for cfg.LocalPort
// via p.portMapper, falling back to a read-only p.portProber observation
// if the mapper is unset or fails. Any failure is logged and swallowed:
// the caller proceeds to NAT evaluation exactly as if neither had been
// configured. This never runs for an introducer, which is by
// construction already statically reachable.
func (p *Peer) runPreliminaryPortMapping() {
	if p.cfg.IsIntroducer {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), preliminaryTimeout)
	defer cancel()

	if p.portMapper != nil {
		mapping, err := p.portMapper.Map(ctx, uint16(p.cfg.LocalPort), 0)
		if err == nil {
			addr, err := types.ParseAddress(mapping.ExternalIP)
			if err != nil {
				p.log.Debug("preliminary mapping has no usable external address", "externalIP", mapping.ExternalIP)
			} else {
				p.mappedEndpoint = types.Endpoint{Address: addr, Port: types.Port(mapping.ExternalPort)}
				p.log.Info("preliminary port mapping obtained", "address", mapping.ExternalIP, "port", mapping.ExternalPort)
				return
			}
		} else {
			p.log.Debug("preliminary port mapping unavailable", "err", err)
		}
	}

	if p.portProber == nil {
		return
	}

	ip, port, err := p.portProber.Probe(ctx, uint16(p.cfg.LocalPort))
	if err != nil {
		p.log.Debug("preliminary port probe unavailable", "err", err)
		return
	}

	addr, err := types.ParseAddress(ip)
	if err != nil {
		p.log.Debug("preliminary probe has no usable external address", "ip", ip)
		return
	}

	p.mappedEndpoint = types.Endpoint{Address: addr, Port: types.Port(port)}
	p.log.Info("preliminary port probe observed external address", "address", ip, "port", port)
}
