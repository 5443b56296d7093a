package simnet

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/pkg/transport"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// ErrNoRoute is returned by a Router when the destination is not
// reachable from that point in the topology. The base Network does
// not escalate non-local sends to its own parent; NAT does.
var ErrNoRoute = errors.New("simnet: no route to destination")

// Router is implemented by anything a Host (or a nested Network/NAT)
// can hand an outbound packet to. Network and NAT both implement
// Route with different escalation behaviour; dispatch through this
// interface, never through a concrete *Network, so NAT's override
// actually takes effect.
type Router interface {
	Route(from types.Address, fromPort types.Port, data []byte, to types.Endpoint) error
}

// Node is the capability set every member of a simnet topology
// implements: addressable, lives under a parent Router, receives
// inbound deliveries, and is told when the topology finishes wiring
// (Init).
type Node interface {
	Init(ts queue.Time)
	Deliver(data []byte, src types.Endpoint, toPort types.Port, ts queue.Time)
	bindParent(p Router, addr types.Address)
}

// ============================================================================
//                              timers
// ============================================================================

// timerHandle tracks one scheduled (possibly repeating) timer so Sleep
// can collapse missed firings into a single catch-up call on Wake.
type timerHandle struct {
	fn          func()
	repeat      queue.Time
	cancelled   bool
	pendingWake bool
}

// ============================================================================
//                              Host
// ============================================================================

// Host is a leaf Node: an addressable endpoint with bound ports, a
// single inbound message handler, and sleep/wake semantics. It
// implements transport.Adapter, so a Peer driven by the simulator and
// a Peer driven by a real socket run identical code.
type Host struct {
	addr   types.Address
	parent Router
	q      *queue.Queue

	boundPorts map[types.Port]struct{}
	onMessage  transport.MessageHandler

	sleeping bool
	awaken   []func()
	timers   []*timerHandle
}

// NewHost creates a Host at addr, scheduled against q. It is not
// reachable until added to a Network via Network.Add.
func NewHost(q *queue.Queue, addr types.Address) *Host {
	return &Host{
		addr:       addr,
		q:          q,
		boundPorts: make(map[types.Port]struct{}),
	}
}

func (h *Host) Address() types.Address { return h.addr }

func (h *Host) bindParent(p Router, addr types.Address) {
	h.parent = p
	h.addr = addr
}

// Init is a no-op for a leaf Host; nothing below it needs wiring.
func (h *Host) Init(ts queue.Time) {}

func (h *Host) Bind(port types.Port) error {
	h.boundPorts[port] = struct{}{}
	return nil
}

func (h *Host) LocalAddress() types.Address { return h.addr }

func (h *Host) Now() time.Time { return simTime(h.q.Now()) }

func (h *Host) Rand() *rand.Rand { return h.q.Rand() }

func (h *Host) OnMessage(fn transport.MessageHandler) { h.onMessage = fn }

func (h *Host) Send(data []byte, to types.Endpoint, fromPort types.Port) error {
	if _, bound := h.boundPorts[fromPort]; !bound {
		return errors.New("simnet: send from unbound port")
	}
	if h.parent == nil {
		return ErrNoRoute
	}
	return h.parent.Route(h.addr, fromPort, data, to)
}

// Deliver is called by the parent Router when a packet addressed to
// (h.addr, toPort) arrives. While asleep, delivery is queued into
// awaken and replayed in order on Wake.
func (h *Host) Deliver(data []byte, src types.Endpoint, toPort types.Port, ts queue.Time) {
	if _, bound := h.boundPorts[toPort]; !bound {
		return
	}
	if h.sleeping {
		h.awaken = append(h.awaken, func() { h.dispatch(data, src, toPort, ts) })
		return
	}
	h.dispatch(data, src, toPort, ts)
}

func (h *Host) dispatch(data []byte, src types.Endpoint, toPort types.Port, ts queue.Time) {
	if h.onMessage == nil {
		return
	}
	h.onMessage(data, src, toPort, simTime(ts))
}

// Sleep suspends delivery: subsequent Deliver calls and timer
// firings are buffered instead of invoked immediately.
func (h *Host) Sleep() { h.sleeping = true }

// Wake resumes delivery, replaying buffered events FIFO. A buffered
// event may itself call Sleep again, in which case draining stops
// until the next Wake.
func (h *Host) Wake() {
	h.sleeping = false
	for len(h.awaken) > 0 && !h.sleeping {
		next := h.awaken[0]
		h.awaken = h.awaken[1:]
		next()
	}
}

// Timer schedules fn via the shared queue. delay == 0 invokes fn
// synchronously before Timer returns, matching the zero-delay timer
// contract used throughout this package; a subsequent repeat (if
// repeat > 0) is then scheduled relative to the queue's current time.
func (h *Host) Timer(delay, repeat time.Duration, fn func()) transport.CancelFunc {
	handle := &timerHandle{fn: fn, repeat: msToQueueTime(repeat)}
	h.timers = append(h.timers, handle)

	if delay == 0 {
		h.fireTimer(handle)
		if handle.repeat > 0 {
			h.scheduleTimer(handle, h.q.Now()+handle.repeat)
		}
	} else {
		h.scheduleTimer(handle, h.q.Now()+msToQueueTime(delay))
	}

	return func() { handle.cancelled = true }
}

func (h *Host) scheduleTimer(handle *timerHandle, at queue.Time) {
	h.q.Add(at, func() {
		if handle.cancelled {
			return
		}
		if h.sleeping {
			// Collapse: don't invoke fn now. Remember that a catch-up
			// is owed, but only queue one regardless of how many
			// periods elapse while asleep.
			if !handle.pendingWake {
				handle.pendingWake = true
				h.awaken = append(h.awaken, func() {
					handle.pendingWake = false
					h.fireTimer(handle)
				})
			}
		} else {
			h.fireTimer(handle)
		}
		if handle.repeat > 0 && !handle.cancelled {
			h.scheduleTimer(handle, h.q.Now()+handle.repeat)
		}
	})
}

func (h *Host) fireTimer(handle *timerHandle) {
	if handle.cancelled {
		return
	}
	handle.fn()
}

func msToQueueTime(d time.Duration) queue.Time {
	return queue.Time(d.Milliseconds())
}

// simTime presents a queue.Time to Adapter consumers as a time.Time,
// epoch-anchored, so Peer code can use normal time.Time arithmetic
// without knowing it is logical simulation time.
func simTime(ts queue.Time) time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}
