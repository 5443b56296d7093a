package simnet

import (
	"math/rand/v2"

	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// ============================================================================
//                              key & port policies
// ============================================================================

// natKey identifies one mapping-table entry. EasyKeyPolicy leaves the
// Dst fields zeroed (the mapping depends only on the internal source);
// HardKeyPolicy fills them in (the mapping depends on the destination
// too, so no two outbound flows from the same source share a port).
type natKey struct {
	SrcAddr types.Address
	SrcPort types.Port
	DstAddr types.Address
	DstPort types.Port
}

// KeyPolicy computes the mapping-table key for an outbound packet
// from source to dest.
type KeyPolicy func(dest, source types.Endpoint) natKey

// EasyKeyPolicy implements endpoint-independent mapping: the external
// port depends only on the internal (address, port), not on who it is
// talking to.
func EasyKeyPolicy(dest, source types.Endpoint) natKey {
	return natKey{SrcAddr: source.Address, SrcPort: source.Port}
}

// HardKeyPolicy implements address-and-port-dependent mapping: a
// distinct external port per (internal source, destination) pair.
func HardKeyPolicy(dest, source types.Endpoint) natKey {
	return natKey{
		SrcAddr: source.Address, SrcPort: source.Port,
		DstAddr: dest.Address, DstPort: dest.Port,
	}
}

// PortAllocator picks an unused external port. inUse reports whether a
// candidate port is already assigned.
type PortAllocator func(rng *rand.Rand, inUse func(types.Port) bool) types.Port

const (
	ephemeralPortLow  = 49152
	ephemeralPortHigh = 65535
)

// RandomPortAllocator draws uniformly from the ephemeral range,
// retrying on collision. This is the allocator the birthday-paradox
// scenarios (spec §8, scenario 3) exercise on the Hard side.
func RandomPortAllocator(rng *rand.Rand, inUse func(types.Port) bool) types.Port {
	span := ephemeralPortHigh - ephemeralPortLow + 1
	for {
		p := types.Port(ephemeralPortLow + rng.IntN(span))
		if !inUse(p) {
			return p
		}
	}
}

// SequentialPortAllocator returns a PortAllocator that assigns
// ephemeral ports in increasing order, wrapping around the range.
func SequentialPortAllocator() PortAllocator {
	next := ephemeralPortLow
	return func(rng *rand.Rand, inUse func(types.Port) bool) types.Port {
		for {
			p := types.Port(next)
			next++
			if next > ephemeralPortHigh {
				next = ephemeralPortLow
			}
			if !inUse(p) {
				return p
			}
		}
	}
}

// ============================================================================
//                              mapping table
// ============================================================================

type mapping struct {
	key         natKey
	external    types.Port
	internAddr  types.Address
	internPort  types.Port
	expiresAt   queue.Time
}

// ============================================================================
//                              NAT config
// ============================================================================

// NATConfig configures one NAT's translation behaviour.
type NATConfig struct {
	// TTL is how long an unused mapping entry survives.
	TTL queue.Time

	// Hairpinning allows an internal node addressing this NAT's own
	// public address to reach another internal node via the unmap
	// table, instead of the packet being dropped as unroutable.
	Hairpinning bool

	// KeyOf selects the mapping key policy: EasyKeyPolicy or
	// HardKeyPolicy.
	KeyOf KeyPolicy

	// AllocatePort selects the port-allocation policy.
	AllocatePort PortAllocator
}

// DefaultNATConfig returns an Easy NAT with random port allocation, a
// one-hour TTL, and hairpinning disabled.
func DefaultNATConfig() NATConfig {
	return NATConfig{
		TTL:          queue.Time(3600_000),
		Hairpinning:  false,
		KeyOf:        EasyKeyPolicy,
		AllocatePort: RandomPortAllocator,
	}
}

// ============================================================================
//                              NAT
// ============================================================================

// NAT is a Network with port translation. Internal nodes in its
// subnet share its single public address; outbound packets are
// rewritten to (NAT.Address(), allocatedPort) and inbound packets
// arriving on an allocated port are unmapped back to the internal
// node that owns it.
type NAT struct {
	*Network

	cfg NATConfig

	mapTable   map[natKey]*mapping
	unmapTable map[types.Port]*mapping
}

// NewNAT creates a NAT scheduled against q. netOpts configure the
// embedded Network's latency/loss behaviour for subnet-local delivery;
// cfg configures the translation policy.
func NewNAT(q *queue.Queue, cfg NATConfig, netOpts ...Option) *NAT {
	if cfg.KeyOf == nil {
		cfg.KeyOf = EasyKeyPolicy
	}
	if cfg.AllocatePort == nil {
		cfg.AllocatePort = RandomPortAllocator
	}
	return &NAT{
		Network:    NewNetwork(q, netOpts...),
		cfg:        cfg,
		mapTable:   make(map[natKey]*mapping),
		unmapTable: make(map[types.Port]*mapping),
	}
}

// Add registers child at addr within this NAT's subnet with the NAT
// itself as the child's parent, so the child's sends go through
// NAT.Route's translation.
func (n *NAT) Add(addr types.Address, child Node) {
	n.subnet[addr] = child
	child.bindParent(n, addr)
	if n.initialized {
		child.Init(n.q.Now())
	}
}

// Route implements Router. Local subnet destinations are delivered by
// the embedded Network. A hairpin send (to this NAT's own public
// address) is unmapped and redelivered internally if hairpinning is
// enabled, and refused with ErrNoRoute otherwise. Everything else is
// translated and escalated to the NAT's own parent.
func (n *NAT) Route(from types.Address, fromPort types.Port, data []byte, to types.Endpoint) error {
	if err := n.Network.Route(from, fromPort, data, to); err == nil {
		return nil
	}

	if to.Address == n.Address() {
		if !n.cfg.Hairpinning {
			return ErrNoRoute
		}
		return n.deliverViaUnmap(to.Port, data, types.Endpoint{Address: from, Port: fromPort})
	}

	if n.parent == nil {
		return ErrNoRoute
	}

	now := n.q.Now()
	source := types.Endpoint{Address: from, Port: fromPort}
	k := n.cfg.KeyOf(to, source)

	m, ok := n.mapTable[k]
	if !ok || m.expiresAt < now {
		port := n.cfg.AllocatePort(n.q.Rand(), func(p types.Port) bool {
			_, taken := n.unmapTable[p]
			return taken
		})
		m = &mapping{key: k, external: port, internAddr: from, internPort: fromPort}
		n.mapTable[k] = m
		n.unmapTable[port] = m
	}
	m.expiresAt = now + n.cfg.TTL

	return n.parent.Route(n.Address(), m.external, data, to)
}

// Deliver handles a packet the parent Network addressed to this NAT's
// public endpoint on an allocated external port: unmap it back to the
// internal node, or drop if the mapping is absent or expired.
func (n *NAT) Deliver(data []byte, src types.Endpoint, toPort types.Port, ts queue.Time) {
	_ = n.deliverViaUnmap(toPort, data, src)
}

func (n *NAT) deliverViaUnmap(toPort types.Port, data []byte, src types.Endpoint) error {
	m, ok := n.unmapTable[toPort]
	if !ok || m.expiresAt < n.q.Now() {
		return nil // drop: absent or expired mapping
	}
	m.expiresAt = n.q.Now() + n.cfg.TTL

	child, ok := n.subnet[m.internAddr]
	if !ok {
		return nil
	}
	n.scheduleDelivery(child, data, src, m.internPort)
	return nil
}

// Lookup reports the internal (address, port) currently mapped to
// external port p, for tests asserting the NAT-table-inverse
// invariant (spec §8).
func (n *NAT) Lookup(p types.Port) (types.Address, types.Port, bool) {
	m, ok := n.unmapTable[p]
	if !ok || m.expiresAt < n.q.Now() {
		return 0, 0, false
	}
	return m.internAddr, m.internPort, true
}
