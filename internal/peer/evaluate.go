package peer

import (
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// evaluateNAT implements the NAT evaluation sequence:
// clear the current classification, ping both introducers, and decide
// once both have answered or natEvalTimeout elapses.
func (p *Peer) evaluateNAT() {
	p.publicAddress = 0
	p.publicPort = 0
	p.nat = types.NATUnknown
	p.evalActive = true
	p.evalPongs = p.evalPongs[:0]
	p.evalTestSeen = false

	ping := types.Ping{ID: p.id, NAT: types.NATUnknown, Restart: p.restart}
	data, err := types.Encode(ping)
	if err != nil {
		p.log.Error("failed to encode ping for NAT evaluation", "err", err)
		return
	}

	if p.cfg.IntroducerA.IsZero() || p.cfg.IntroducerB.IsZero() {
		p.log.Warn("NAT evaluation started without both introducers configured")
	}
	if !p.cfg.IntroducerA.IsZero() {
		_ = p.transport.Send(data, p.cfg.IntroducerA, p.cfg.LocalPort)
	}
	if !p.cfg.IntroducerB.IsZero() {
		_ = p.transport.Send(data, p.cfg.IntroducerB, p.cfg.LocalPort)
	}

	p.evalCancel = p.transport.Timer(natEvalTimeout, 0, func() {
		if p.evalActive {
			p.decideNAT()
		}
	})
}

// onEvalPong is invoked for a Pong arriving from a trusted introducer
// while evaluation is active. It records the echoed port and decides
// once both introducers (or a timeout) have weighed in.
func (p *Peer) onEvalPong(port types.Port) {
	if !p.evalActive {
		return
	}
	p.evalPongs = append(p.evalPongs, port)
	if len(p.evalPongs) >= 2 {
		p.decideNAT()
	}
}

// onEvalTest is invoked when a MsgTest arrives on TEST_PORT while
// evaluation is active: unsolicited arrival there proves the peer is
// publicly reachable.
func (p *Peer) onEvalTest() {
	p.evalTestSeen = true
	if p.evalActive {
		p.decideNAT()
	}
}

// decideNAT applies the classification rule and closes out the
// evaluation phase; it is idempotent so a timeout firing after the
// decision was already reached is a no-op.
func (p *Peer) decideNAT() {
	if !p.evalActive {
		return
	}
	p.evalActive = false
	if p.evalCancel != nil {
		p.evalCancel()
		p.evalCancel = nil
	}

	switch {
	case p.evalTestSeen:
		p.nat = types.NATStatic
	case len(p.evalPongs) >= 2 && p.evalPongs[0] == p.evalPongs[1]:
		p.nat = types.NATEasy
	default:
		p.nat = types.NATHard
	}

	p.log.Info("NAT evaluation complete", "nat", p.nat.String())
}
