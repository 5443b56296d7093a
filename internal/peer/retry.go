package peer

import (
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// retryPing pings id's currently-known endpoint, if any, subject to
// retryWindow deduplication.
func (p *Peer) retryPing(id types.PeerID) {
	record, ok := p.peers[id]
	if !ok {
		return
	}
	p.retryPingTo(id, types.Endpoint{Address: record.Address, Port: record.Port})
}

// retryPingTo pings id at target explicitly, overriding the record's
// stored endpoint — used by onLocal, which learns a different (local)
// endpoint than the one already on file. A ping sent to T within
// retryWindow of the last one is a no-op, matching the
// idempotency requirement for repeated triggers toward the same target.
func (p *Peer) retryPingTo(id types.PeerID, target types.Endpoint) {
	if target.IsZero() {
		return
	}
	record := p.addPeer(id)
	now := p.transport.Now()
	if !record.LastSent.IsZero() && now.Sub(record.LastSent) < retryWindow {
		return
	}

	ping := types.Ping{ID: p.id, NAT: p.nat, Restart: p.restart}
	data, err := types.Encode(ping)
	if err != nil {
		p.log.Error("failed to encode retry ping", "err", err)
		return
	}
	if err := p.transport.Send(data, target, p.cfg.LocalPort); err != nil {
		p.log.Debug("retry ping send failed", "target", target.String(), "err", err)
		return
	}
	record.LastSent = now
}
