package simnet

import (
	"math/rand/v2"
	"time"

	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// ============================================================================
//                              Network config
// ============================================================================

// LatencyFunc draws a send latency from rng. The default is zero
// latency (instant, same-tick delivery).
type LatencyFunc func(rng *rand.Rand) time.Duration

// Config configures one Network's delivery behaviour.
type Config struct {
	// Latency draws the delay applied to each local delivery.
	Latency LatencyFunc

	// LossProbability is the chance, in [0,1), that a locally-routed
	// packet is dropped instead of delivered.
	LossProbability float64
}

// DefaultConfig returns a Config with no latency and no loss —
// instant, reliable local delivery.
func DefaultConfig() Config {
	return Config{}
}

// Option configures a Network or NAT at construction.
type Option func(*Config)

// WithLatency sets the per-delivery latency function.
func WithLatency(fn LatencyFunc) Option {
	return func(c *Config) { c.Latency = fn }
}

// WithLossProbability sets the per-delivery drop probability.
func WithLossProbability(p float64) Option {
	return func(c *Config) { c.LossProbability = p }
}

func (c *Config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// ============================================================================
//                              Network
// ============================================================================

// Network is a Node that owns a subnet: a mapping from local Address
// to child Node. Sends to an address in the subnet are scheduled for
// delivery with the configured latency/loss; sends outside the subnet
// fail at the base Network (NAT overrides this to escalate upward).
type Network struct {
	addr   types.Address
	parent Router
	q      *queue.Queue
	cfg    Config

	subnet      map[types.Address]Node
	initialized bool
}

// NewNetwork creates a Network scheduled against q.
func NewNetwork(q *queue.Queue, opts ...Option) *Network {
	cfg := DefaultConfig()
	cfg.apply(opts)
	return &Network{
		q:      q,
		cfg:    cfg,
		subnet: make(map[types.Address]Node),
	}
}

func (n *Network) Address() types.Address { return n.addr }

func (n *Network) bindParent(p Router, addr types.Address) {
	n.parent = p
	n.addr = addr
}

// Add registers child at addr within this Network's subnet. If the
// Network is already initialized, child.Init is invoked immediately;
// otherwise it runs when this Network is itself initialized.
func (n *Network) Add(addr types.Address, child Node) {
	n.subnet[addr] = child
	child.bindParent(n, addr)
	if n.initialized {
		child.Init(n.q.Now())
	}
}

// Init marks the Network initialized and propagates to every child
// already registered.
func (n *Network) Init(ts queue.Time) {
	n.initialized = true
	for _, child := range n.subnet {
		child.Init(ts)
	}
}

// Deliver is the base Network's response to a packet addressed to its
// own address rather than to a child: there is no defined recipient,
// so it is dropped. NAT overrides this to unmap and re-deliver inbound
// traffic addressed to its public endpoint.
func (n *Network) Deliver(data []byte, src types.Endpoint, toPort types.Port, ts queue.Time) {}

// Route implements Router. A destination inside the subnet is
// scheduled for delivery with latency/loss; anything else fails here
// without escalating — that is NAT's job.
func (n *Network) Route(from types.Address, fromPort types.Port, data []byte, to types.Endpoint) error {
	child, ok := n.subnet[to.Address]
	if !ok {
		return ErrNoRoute
	}
	n.scheduleDelivery(child, data, types.Endpoint{Address: from, Port: fromPort}, to.Port)
	return nil
}

// scheduleDelivery applies the configured loss/latency policy and, if
// the packet survives, schedules child.Deliver on the shared queue.
func (n *Network) scheduleDelivery(child Node, data []byte, src types.Endpoint, toPort types.Port) {
	rng := n.q.Rand()
	if n.cfg.LossProbability > 0 && rng.Float64() < n.cfg.LossProbability {
		return
	}
	delay := queue.Time(0)
	if n.cfg.Latency != nil {
		delay = msToQueueTime(n.cfg.Latency(rng))
	}
	deliverAt := n.q.Now() + delay
	n.q.Add(deliverAt, func() {
		child.Deliver(data, src, toPort, deliverAt)
	})
}
