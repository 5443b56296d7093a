package peer

import "errors"

// Sentinel errors
var (
	// ErrBindFailed is returned by New when LOCAL_PORT or TEST_PORT
	// could not be bound. Per the error-handling design this is the
	// one fatal condition a Peer surfaces to its caller; everything
	// else is a state update or a silent drop.
	ErrBindFailed = errors.New("peer: bind failed")

	// ErrTraversalFailed marks a connection attempt that exhausted its
	// strategy without success: a BDP batch that ran out of packets,
	// or a Hard/Hard pairing that cannot be traversed by hole-punching.
	ErrTraversalFailed = errors.New("peer: traversal failed")

	// ErrUnknownPeer is attached to the debug log entry onRelay writes
	// when a MsgRelay names a target this Peer has no PeerRecord for;
	// no exported operation returns it.
	ErrUnknownPeer = errors.New("peer: unknown peer")
)

// BindError aggregates the independent bind failures from New's
// startup sequence (LOCAL_PORT, TEST_PORT can each fail on their own).
type BindError struct {
	Cause error
}

func (e *BindError) Error() string { return "peer: bind failed: " + e.Cause.Error() }

func (e *BindError) Unwrap() error { return e.Cause }

// Is reports that a BindError satisfies errors.Is(err, ErrBindFailed),
// alongside its normal Unwrap chain to Cause.
func (e *BindError) Is(target error) bool { return target == ErrBindFailed }
