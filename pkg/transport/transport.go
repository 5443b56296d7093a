// Package transport defines the narrow interface a Peer consumes to
// send, receive, and schedule work, independent of whether the bytes
// travel through the deterministic simulator or a real UDP socket.
package transport

import (
	"math/rand/v2"
	"time"

	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// MessageHandler receives one inbound datagram: its payload, the
// source endpoint as observed by the receiver, the local port it
// arrived on, and the time of arrival.
type MessageHandler func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time)

// CancelFunc stops a scheduled timer. Calling it after the timer has
// already fired (once, for a one-shot) is a no-op.
type CancelFunc func()

// Adapter is the contract a Peer is written against. The simulator's
// Host and the real udptransport.Conn both implement it; the Peer
// cannot tell which one it was given.
type Adapter interface {
	// Bind reserves port for inbound delivery. A Peer binds both its
	// main port and its test port before entering its NAT-evaluation
	// sequence.
	Bind(port types.Port) error

	// Send transmits data to the given endpoint from the given local
	// port, which must already be bound.
	Send(data []byte, to types.Endpoint, fromPort types.Port) error

	// Timer schedules fn after delay. If repeat > 0, fn fires again
	// every repeat thereafter until the returned CancelFunc is called.
	// A delay of 0 invokes fn synchronously before Timer returns.
	Timer(delay, repeat time.Duration, fn func()) CancelFunc

	// LocalAddress returns the adapter's own address as it would be
	// observed by a peer in the same local network (i.e. before any
	// NAT translation upstream).
	LocalAddress() types.Address

	// OnMessage installs the single inbound handler for every bound
	// port. Only one handler is active at a time; installing a new one
	// replaces the previous.
	OnMessage(h MessageHandler)

	// Sleep and Wake toggle delivery suspension: while asleep, inbound
	// messages and timer firings are queued and replayed in order on
	// Wake, with repeat-timer firings collapsing to a single catch-up
	// call per the Node sleep contract.
	Sleep()
	Wake()

	// Now returns the adapter's current notion of time: simulated time
	// for the simulator, wall-clock time for the real transport. A
	// Peer never calls time.Now() directly so that its liveness-
	// classification arithmetic runs identically under both.
	Now() time.Time

	// Rand returns the adapter's randomness source. The simulator
	// threads through the Queue's single seeded generator so a whole
	// run (including a Peer's BDP port choices) is reproducible from
	// one seed; a real adapter seeds independently at startup. A Peer
	// never constructs its own generator.
	Rand() *rand.Rand
}
