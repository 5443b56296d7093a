// Package simnet implements the deterministic network simulator: Host
// (an addressable endpoint satisfying pkg/transport.Adapter), Network
// (routes between child nodes by address, applying latency/loss from
// the shared queue.Queue's seeded PRNG), and NAT (a Network with port
// translation, TTL-based mapping expiry, and optional hairpinning).
//
// Every scheduling decision flows through a single queue.Queue shared
// by the whole topology; nothing in this package touches the wall
// clock or a package-level random source.
package simnet
