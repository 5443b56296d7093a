package peer

import (
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// keepaliveTick runs once per Config.KeepAlive. It detects a missed
// tick (suspend/resume), reclassifies every known peer's liveness, and
// on a missed tick resynchronizes by re-pinging peers and rejoining
// swarms.
func (p *Peer) keepaliveTick() {
	now := p.transport.Now()

	if !p.lastKeepaliveTick.IsZero() && now.Sub(p.lastKeepaliveTick) > p.cfg.KeepAlive {
		p.onWakeup()
	}
	p.lastKeepaliveTick = now

	for _, record := range p.peers {
		liveness := record.Liveness(now, p.cfg.KeepAliveTimeout)
		p.log.Debug("liveness", "peer", string(record.ID), "state", liveness.String())
	}
}

// onWakeup re-announces this Peer to everyone it already knows about:
// a fresh Ping to every PeerRecord, and a fresh Join for every swarm
// it previously asked to join.
func (p *Peer) onWakeup() {
	p.log.Info("wakeup detected after a missed keepalive period")

	ping := types.Ping{ID: p.id, NAT: p.nat, Restart: p.restart}
	data, err := types.Encode(ping)
	if err == nil {
		for _, record := range p.peers {
			target := types.Endpoint{Address: record.Address, Port: record.Port}
			if target.IsZero() {
				continue
			}
			_ = p.transport.Send(data, target, p.cfg.LocalPort)
		}
	}

	for swarm, req := range p.joinRequests {
		p.Join(swarm, req.peers, req.to)
	}
}
