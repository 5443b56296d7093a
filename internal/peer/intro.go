package peer

import (
	"github.com/dep2p/nat-traversal-sim/pkg/transport"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// Intro asks a configured introducer to relay id/address/port between
// this Peer and target, optionally naming a swarm that the introducer
// copies into both MsgConnect messages.
func (p *Peer) Intro(target types.PeerID, swarm *string) {
	introducer := p.cfg.IntroducerA
	if introducer.IsZero() {
		introducer = p.cfg.IntroducerB
	}
	if introducer.IsZero() {
		p.log.Warn("intro requested without a configured introducer")
		return
	}
	msg := types.Intro{ID: p.id, Target: target, Swarm: swarm}
	data, err := types.Encode(msg)
	if err != nil {
		p.log.Error("failed to encode intro", "err", err)
		return
	}
	_ = p.transport.Send(data, introducer, p.cfg.LocalPort)
}

// onIntro services an introduction request: if both the asker and the
// target are already known to this introducer, it sends each side a
// MsgConnect describing the other. Otherwise it reports MsgIntroError.
func (p *Peer) onIntro(msg types.Intro, src types.Endpoint) {
	asker, askerKnown := p.peers[msg.ID]
	target, targetKnown := p.peers[msg.Target]
	if !askerKnown || !targetKnown {
		reply := types.IntroError{ID: p.id, Target: msg.Target, Call: "intro"}
		data, err := types.Encode(reply)
		if err != nil {
			p.log.Error("failed to encode introError", "err", err)
			return
		}
		_ = p.transport.Send(data, src, p.cfg.LocalPort)
		return
	}

	toTarget := types.Connect{ID: p.id, Target: msg.ID, Address: asker.Address, Port: asker.Port, NAT: asker.NAT, Swarm: msg.Swarm}
	if data, err := types.Encode(toTarget); err == nil {
		_ = p.transport.Send(data, types.Endpoint{Address: target.Address, Port: target.Port}, p.cfg.LocalPort)
	}

	toAsker := types.Connect{ID: p.id, Target: msg.Target, Address: target.Address, Port: target.Port, NAT: target.NAT, Swarm: msg.Swarm}
	if data, err := types.Encode(toAsker); err == nil {
		_ = p.transport.Send(data, src, p.cfg.LocalPort)
	}
}

// onIntroError logs a failed introduction; it is a first-class reply,
// not a fault, so no retry is attempted automatically.
func (p *Peer) onIntroError(msg types.IntroError) {
	p.log.Debug("introduction failed", "target", string(msg.Target))
}

// onConnect handles a MsgConnect naming target T, dispatching the
// traversal strategy by (self.nat, T.nat).
func (p *Peer) onConnect(msg types.Connect, src types.Endpoint) {
	target := msg.Target
	record := p.addPeer(target)
	if record.Address != msg.Address || record.Port != msg.Port {
		record.Pong = nil
	}
	record.Address = msg.Address
	record.Port = msg.Port
	record.NAT = msg.NAT

	if msg.Swarm != nil && p.joined[*msg.Swarm] {
		swarm := p.addSwarm(*msg.Swarm)
		swarm.Members[target] = record
	}

	now := p.transport.Now()
	if attempt, ok := p.connecting[target]; ok && now.Sub(attempt.startedAt) < p.cfg.ConnectingMaxTime {
		p.retryPing(target)
		return
	}
	recentExchange := (!record.LastRecv.IsZero() && now.Sub(record.LastRecv) < p.cfg.KeepAliveTimeout) ||
		(!record.LastSent.IsZero() && now.Sub(record.LastSent) < p.cfg.KeepAliveTimeout)
	if recentExchange {
		p.retryPing(target)
		return
	}

	if p.publicAddress != 0 && msg.Address == p.publicAddress {
		p.relayLocal(target, src)
		return
	}

	p.connecting[target] = &connectAttempt{startedAt: now}

	switch {
	case (p.nat == types.NATStatic || p.nat == types.NATEasy) && (msg.NAT == types.NATStatic || msg.NAT == types.NATEasy):
		p.retryPing(target)
	case p.nat == types.NATEasy && msg.NAT == types.NATHard:
		p.startBDPEasy(target, msg.Address)
	case p.nat == types.NATHard && (msg.NAT == types.NATStatic || msg.NAT == types.NATEasy):
		p.startBDPHard(target, types.Endpoint{Address: msg.Address, Port: msg.Port})
	case p.nat == types.NATHard && msg.NAT == types.NATHard:
		delete(p.connecting, target)
		p.log.Info("traversal not possible for hard/hard pairing", "target", string(target), "err", ErrTraversalFailed)
	default:
		// Either side's class is still Unknown; a single ping is the
		// cheapest useful thing to try while evaluation catches up.
		p.retryPing(target)
	}
}

// relayLocal is taken when T.address matches our own public address:
// both peers sit behind the same NAT, so route a MsgLocal back through
// the introducer that sent us this MsgConnect instead of attempting
// hole-punching against our own public endpoint.
func (p *Peer) relayLocal(target types.PeerID, introducer types.Endpoint) {
	local := types.Local{ID: p.id, Address: p.transport.LocalAddress(), Port: p.cfg.LocalPort}
	content, err := types.Encode(local)
	if err != nil {
		p.log.Error("failed to encode local", "err", err)
		return
	}
	relay := types.Relay{Target: target, Content: content}
	data, err := types.Encode(relay)
	if err != nil {
		p.log.Error("failed to encode relay", "err", err)
		return
	}
	_ = p.transport.Send(data, introducer, p.cfg.LocalPort)
}

// startBDPEasy is the easy side of the birthday-paradox scan: send
// MsgPing to addr on a fresh random destination port every BDPInterval,
// up to BDPMaxPackets, stopping early on a matching pong.
func (p *Peer) startBDPEasy(target types.PeerID, addr types.Address) {
	sent := 0
	var cancel transport.CancelFunc
	send := func() {
		if sent >= p.cfg.BDPMaxPackets {
			if cancel != nil {
				cancel()
			}
			delete(p.connecting, target)
			p.log.Info("birthday-paradox scan exhausted", "target", string(target), "err", ErrTraversalFailed)
			return
		}
		ping := types.Ping{ID: p.id, NAT: p.nat, Restart: p.restart}
		data, err := types.Encode(ping)
		if err == nil {
			_ = p.transport.Send(data, types.Endpoint{Address: addr, Port: p.randomPort()}, p.cfg.LocalPort)
		}
		sent++
	}
	cancel = p.transport.Timer(0, p.cfg.BDPInterval, send)
	if attempt, ok := p.connecting[target]; ok {
		attempt.cancel = cancel
	}
}

// startBDPHard is the hard side of the birthday-paradox scan: bind up
// to HardSideFreshPorts local ports and send exactly one ping from
// each, with no inter-packet delay, toward T's known endpoint.
func (p *Peer) startBDPHard(target types.PeerID, dest types.Endpoint) {
	record := p.addPeer(target)
	for i := 0; i < types.HardSideFreshPorts; i++ {
		port := p.randomPort()
		if err := p.transport.Bind(port); err != nil {
			continue
		}
		ping := types.Ping{ID: p.id, NAT: p.nat, Restart: p.restart}
		data, err := types.Encode(ping)
		if err != nil {
			continue
		}
		if err := p.transport.Send(data, dest, port); err != nil {
			continue
		}
		record.Outport = port
	}
}

// randomPort draws a destination/source port outside the two reserved
// protocol ports, from the shared adapter randomness source.
func (p *Peer) randomPort() types.Port {
	for {
		n := p.transport.Rand().IntN(65536-1024) + 1024
		port := types.Port(n)
		if port != p.cfg.LocalPort && port != p.cfg.TestPort {
			return port
		}
	}
}
