package peer

import (
	"errors"
	"time"

	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// handleMessage is the single inbound entry point installed on the
// transport.Adapter. Malformed payloads and unrecognized tags are
// transient errors: logged at debug and dropped, never
// surfaced as a Go error past this boundary.
func (p *Peer) handleMessage(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
	tag, msg, err := types.Decode(data)
	if err != nil {
		if errors.Is(err, types.ErrUnknownMessageType) {
			p.log.Debug("dropping message with unknown type", "from", src.String())
		} else {
			p.log.Debug("dropping malformed message", "from", src.String(), "err", err)
		}
		return
	}

	switch tag {
	case types.MsgPing:
		p.onPing(msg.(types.Ping), src, recvPort)
	case types.MsgPong:
		p.onPong(msg.(types.Pong), src, recvPort)
	case types.MsgTest:
		p.onTest(msg.(types.Test))
	case types.MsgIntro:
		p.onIntro(msg.(types.Intro), src)
	case types.MsgIntroError:
		p.onIntroError(msg.(types.IntroError))
	case types.MsgConnect:
		p.onConnect(msg.(types.Connect), src)
	case types.MsgLocal:
		p.onLocal(msg.(types.Local))
	case types.MsgJoin:
		p.onJoin(msg.(types.Join), src)
	case types.MsgJoinError:
		p.onJoinError(msg.(types.JoinError))
	case types.MsgRelay:
		p.onRelay(msg.(types.Relay))
	}
}

// onPing replies with a Pong echoing the observed source, and — if
// this Peer plays the introducer role — a Test probe on TEST_PORT.
// Every Peer answers Ping this way, not only introducers; only the
// Test probe is introducer-specific.
func (p *Peer) onPing(msg types.Ping, src types.Endpoint, recvPort types.Port) {
	now := p.transport.Now()

	record := p.addPeer(msg.ID)
	record.Address = src.Address
	record.Port = src.Port
	record.NAT = msg.NAT
	record.Restart = msg.Restart
	record.LastRecv = now

	pong := types.Pong{
		ID:        p.id,
		Address:   src.Address,
		Port:      src.Port,
		NAT:       p.nat,
		Restart:   p.restart,
		Timestamp: now,
	}
	data, err := types.Encode(pong)
	if err != nil {
		p.log.Error("failed to encode pong", "err", err)
		return
	}
	_ = p.transport.Send(data, src, recvPort)

	if p.cfg.IsIntroducer {
		test := types.Test{ID: p.id, Address: src.Address, Port: src.Port, NAT: p.nat}
		if testData, err := types.Encode(test); err == nil {
			_ = p.transport.Send(testData, types.Endpoint{Address: src.Address, Port: p.cfg.TestPort}, p.cfg.LocalPort)
		}
	}
}

// onPong updates the sender's PeerRecord and, if the sender is a
// trusted introducer, this Peer's own public endpoint/NAT class — the
// only path that sets publicAddress/publicPort (evaluateNAT only clears
// them when an evaluation starts). It also
// resolves any in-flight connection attempt to the sender.
func (p *Peer) onPong(msg types.Pong, src types.Endpoint, recvPort types.Port) {
	now := p.transport.Now()

	record := p.addPeer(msg.ID)
	record.LastRecv = now
	record.NAT = msg.NAT
	record.Restart = msg.Restart
	record.Pong = &types.PongState{Timestamp: msg.Timestamp, Address: msg.Address, Port: msg.Port}

	if p.isIntroducer(src) {
		p.pong = &types.PongState{Timestamp: msg.Timestamp, Address: msg.Address, Port: msg.Port}
		p.publicAddress = msg.Address
		p.publicPort = msg.Port
		p.onEvalPong(msg.Port)
	}

	if attempt, ok := p.connecting[msg.ID]; ok {
		if attempt.cancel != nil {
			attempt.cancel()
		}
		delete(p.connecting, msg.ID)
		record.Outport = recvPort
		p.log.Info("traversal succeeded", "target", string(msg.ID))
	}
}

// onTest handles a MsgTest arriving unsolicited on TEST_PORT: its
// mere arrival proves this Peer is publicly reachable.
func (p *Peer) onTest(msg types.Test) {
	now := p.transport.Now()
	p.pong = &types.PongState{Timestamp: now, Address: msg.Address, Port: msg.Port}
	p.nat = types.NATStatic
	p.onEvalTest()
}

// onLocal retries a ping to the sender's advertised local endpoint —
// the same-NAT convergence path.
func (p *Peer) onLocal(msg types.Local) {
	p.retryPingTo(msg.ID, types.Endpoint{Address: msg.Address, Port: msg.Port})
}

// onRelay forwards Content verbatim to Target's known endpoint, or
// silently drops it if Target is unknown.
func (p *Peer) onRelay(msg types.Relay) {
	record, ok := p.peers[msg.Target]
	if !ok {
		p.log.Debug("dropping relay for unknown peer", "target", string(msg.Target), "err", ErrUnknownPeer)
		return
	}
	target := types.Endpoint{Address: record.Address, Port: record.Port}
	_ = p.transport.Send(msg.Content, target, p.cfg.LocalPort)
}
