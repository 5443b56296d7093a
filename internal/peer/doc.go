// Package peer implements the NAT-traversal state machine: NAT class
// discovery against two introducers, hole-punching (single ping and
// the birthday-paradox port scan), swarm membership, and the
// statically-reachable introducer role, all driven reactively by
// inbound messages and timers through a transport.Adapter.
//
// A Peer never blocks and never runs its own goroutine loop; every
// transition is a direct call from an Adapter callback, so the exact
// same code drives both the deterministic simulator and a real UDP
// socket.
package peer
