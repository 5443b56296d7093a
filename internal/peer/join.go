package peer

import (
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// joinRequest remembers enough of a Join call to resend it verbatim
// after a detected wakeup.
type joinRequest struct {
	to     types.Endpoint
	peers  int
}

// Join asks to to add this Peer to swarm and introduce it to up to
// peersWanted existing members. The receiver may be a configured
// introducer or any peer already known to be a swarm member.
func (p *Peer) Join(swarm string, peersWanted int, to types.Endpoint) {
	msg := types.Join{ID: p.id, Swarm: swarm, NAT: p.nat, Peers: peersWanted}
	data, err := types.Encode(msg)
	if err != nil {
		p.log.Error("failed to encode join", "err", err)
		return
	}
	if err := p.transport.Send(data, to, p.cfg.LocalPort); err != nil {
		p.log.Debug("join send failed", "to", to.String(), "err", err)
		return
	}
	p.joined[swarm] = true
	p.joinRequests[swarm] = joinRequest{to: to, peers: peersWanted}
	p.addSwarm(swarm)
}

// onJoin admits sender s into swarm w and introduces it to up to
// msg.Peers existing members, shuffled and — for a Hard s — with every
// other Hard member at a different public address filtered out (Easy
// and Static members, and Hard members sharing s's address, remain).
func (p *Peer) onJoin(msg types.Join, src types.Endpoint) {
	now := p.transport.Now()

	sender := p.addPeer(msg.ID)
	sender.Address = src.Address
	sender.Port = src.Port
	sender.NAT = msg.NAT
	sender.LastRecv = now

	swarm := p.addSwarm(msg.Swarm)
	swarm.LastHeard = now
	swarm.Members[msg.ID] = sender

	others := make([]*types.PeerRecord, 0, len(swarm.Members))
	for id, member := range swarm.Members {
		if id == msg.ID {
			continue
		}
		others = append(others, member)
	}

	if len(others) == 0 {
		reply := types.JoinError{ID: p.id, Swarm: msg.Swarm, Peers: 1, Call: "join"}
		data, err := types.Encode(reply)
		if err != nil {
			p.log.Error("failed to encode joinError", "err", err)
			return
		}
		_ = p.transport.Send(data, src, p.cfg.LocalPort)
		return
	}

	rng := p.transport.Rand()
	rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	if msg.NAT == types.NATHard {
		filtered := others[:0]
		for _, member := range others {
			if member.NAT == types.NATHard && member.Address != sender.Address {
				continue
			}
			filtered = append(filtered, member)
		}
		others = filtered
	}

	// Same-address pairings need no hole-punching (MsgLocal handles
	// them) and are cheaper/more likely to succeed than the shuffled
	// remainder, so they go first when truncating to msg.Peers.
	sameAddress := make([]*types.PeerRecord, 0, len(others))
	rest := make([]*types.PeerRecord, 0, len(others))
	for _, member := range others {
		if member.Address == sender.Address {
			sameAddress = append(sameAddress, member)
		} else {
			rest = append(rest, member)
		}
	}
	others = append(sameAddress, rest...)

	if len(others) > msg.Peers {
		others = others[:msg.Peers]
	}

	swarmID := msg.Swarm
	for _, member := range others {
		toMember := types.Connect{ID: p.id, Target: msg.ID, Address: sender.Address, Port: sender.Port, NAT: sender.NAT, Swarm: &swarmID}
		if data, err := types.Encode(toMember); err == nil {
			_ = p.transport.Send(data, types.Endpoint{Address: member.Address, Port: member.Port}, p.cfg.LocalPort)
		}

		toSender := types.Connect{ID: p.id, Target: member.ID, Address: member.Address, Port: member.Port, NAT: member.NAT, Swarm: &swarmID}
		if data, err := types.Encode(toSender); err == nil {
			_ = p.transport.Send(data, src, p.cfg.LocalPort)
		}
	}
}

// onJoinError logs a join request that found no other swarm members
// yet; it is a first-class reply, not a fault.
func (p *Peer) onJoinError(msg types.JoinError) {
	p.log.Debug("join found no other members yet", "swarm", msg.Swarm)
}
