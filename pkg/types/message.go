package types

import (
	"encoding/json"
	"errors"
	"time"
)

// MsgType is the wire tag carried in every envelope's "type" field.
type MsgType string

const (
	MsgPing       MsgType = "ping"
	MsgPong       MsgType = "pong"
	MsgTest       MsgType = "test"
	MsgIntro      MsgType = "intro"
	MsgIntroError MsgType = "introError"
	MsgConnect    MsgType = "connect"
	MsgLocal      MsgType = "local"
	MsgJoin       MsgType = "join"
	MsgJoinError  MsgType = "joinError"
	MsgRelay      MsgType = "relay"
)

// ErrUnknownMessageType is returned by Decode for a tag Decode does not recognize.
// Per the wire contract, callers should treat this as a silent drop, not a fault.
var ErrUnknownMessageType = errors.New("types: unknown message type")

// Ping announces the sender's id, self-reported NAT class, and boot time.
type Ping struct {
	ID      PeerID    `json:"id"`
	NAT     NATType   `json:"nat"`
	Restart time.Time `json:"restart"`
}

// Pong echoes the receiver's view of the sender: the source endpoint it
// actually observed, its own id/nat, and when it booted.
type Pong struct {
	ID        PeerID    `json:"id"`
	Address   Address   `json:"address"`
	Port      Port      `json:"port"`
	NAT       NATType   `json:"nat"`
	Restart   time.Time `json:"restart"`
	Timestamp time.Time `json:"timestamp"`
}

// Test is delivered on TEST_PORT only; its mere arrival proves the
// receiver is publicly reachable (NATStatic).
type Test struct {
	ID      PeerID  `json:"id"`
	Address Address `json:"address"`
	Port    Port    `json:"port"`
	NAT     NATType `json:"nat"`
}

// Intro asks an introducer known to both peers to relay their endpoints.
type Intro struct {
	ID     PeerID  `json:"id"`
	Target PeerID  `json:"target"`
	Swarm  *string `json:"swarm,omitempty"`
}

// IntroError replies to Intro when the introducer does not know both peers.
type IntroError struct {
	ID     PeerID `json:"id"`
	Target PeerID `json:"target"`
	Call   string `json:"call"`
}

// Connect carries one peer's view of another peer, sent by an introducer
// (via Intro/Join) to both sides of a pairing.
type Connect struct {
	ID      PeerID  `json:"id"`
	Target  PeerID  `json:"target"`
	Address Address `json:"address"`
	Port    Port    `json:"port"`
	NAT     NATType `json:"nat"`
	Swarm   *string `json:"swarm,omitempty"`
}

// Local tells the recipient that the sender believes both peers sit behind
// the same NAT, and carries the sender's local (not public) endpoint.
type Local struct {
	ID      PeerID  `json:"id"`
	Address Address `json:"address"`
	Port    Port    `json:"port"`
}

// Join asks the receiver (an introducer, or any swarm member) to add the
// sender to swarm and introduce it to up to Peers other members.
type Join struct {
	ID    PeerID  `json:"id"`
	Swarm string  `json:"swarm"`
	NAT   NATType `json:"nat"`
	Peers int     `json:"peers"`
}

// JoinError replies to Join when the swarm has no other members to
// introduce yet.
type JoinError struct {
	ID    PeerID `json:"id"`
	Swarm string `json:"swarm"`
	Peers int    `json:"peers"`
	Call  string `json:"call"`
}

// Relay forwards Content verbatim to the peer named by Target, if known.
type Relay struct {
	Target  PeerID          `json:"target"`
	Content json.RawMessage `json:"content"`
}

type taggedEnvelope struct {
	Type MsgType `json:"type"`
}

// Encode serializes msg as a tagged JSON record. msg must be one of the
// types declared in this file (by value or pointer).
func Encode(msg any) ([]byte, error) {
	tag, payload, err := tagFor(msg)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// Splice "type":"<tag>" into the encoded object. Every payload above
	// encodes to a JSON object, so this is always safe.
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.New("types: message payload did not encode as an object")
	}
	prefix := []byte(`{"type":"` + string(tag) + `"`)
	if len(body) == 2 { // "{}"
		return append(prefix, '}'), nil
	}
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func tagFor(msg any) (MsgType, any, error) {
	switch m := msg.(type) {
	case Ping:
		return MsgPing, m, nil
	case *Ping:
		return MsgPing, m, nil
	case Pong:
		return MsgPong, m, nil
	case *Pong:
		return MsgPong, m, nil
	case Test:
		return MsgTest, m, nil
	case *Test:
		return MsgTest, m, nil
	case Intro:
		return MsgIntro, m, nil
	case *Intro:
		return MsgIntro, m, nil
	case IntroError:
		return MsgIntroError, m, nil
	case *IntroError:
		return MsgIntroError, m, nil
	case Connect:
		return MsgConnect, m, nil
	case *Connect:
		return MsgConnect, m, nil
	case Local:
		return MsgLocal, m, nil
	case *Local:
		return MsgLocal, m, nil
	case Join:
		return MsgJoin, m, nil
	case *Join:
		return MsgJoin, m, nil
	case JoinError:
		return MsgJoinError, m, nil
	case *JoinError:
		return MsgJoinError, m, nil
	case Relay:
		return MsgRelay, m, nil
	case *Relay:
		return MsgRelay, m, nil
	default:
		return "", nil, errors.New("types: unsupported message value")
	}
}

// Decode inspects the "type" tag and unmarshals into the matching struct.
// An unrecognized tag returns ErrUnknownMessageType; callers at the peer
// layer treat that as a silent drop rather than a fault.
func Decode(data []byte) (MsgType, any, error) {
	var env taggedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	switch env.Type {
	case MsgPing:
		var v Ping
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgPong:
		var v Pong
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgTest:
		var v Test
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgIntro:
		var v Intro
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgIntroError:
		var v IntroError
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgConnect:
		var v Connect
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgLocal:
		var v Local
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgJoin:
		var v Join
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgJoinError:
		var v JoinError
		return env.Type, v, json.Unmarshal(data, &v)
	case MsgRelay:
		var v Relay
		return env.Type, v, json.Unmarshal(data, &v)
	default:
		return env.Type, nil, ErrUnknownMessageType
	}
}
