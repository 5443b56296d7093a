// Package udptransport implements pkg/transport.Adapter over real
// UDP sockets. Each bound port runs its own reader goroutine; all of
// them funnel into one events channel that the caller's own goroutine
// drains via Run, so a Peer built against this adapter sees messages
// and timer firings serialized exactly as it would against the
// simulator — never invoked concurrently with itself.
package udptransport
