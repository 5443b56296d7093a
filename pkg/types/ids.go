package types

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// PeerID is opaque, high-entropy bytes identifying a peer across restarts
// and address changes. It is never interpreted, only compared and hashed.
type PeerID string

// NewPeerID mints a fresh identity using a random UUIDv4, matching the
// "opaque high-entropy bytes" requirement without implying any particular
// cryptographic identity scheme (key material is out of scope).
func NewPeerID() PeerID {
	id := uuid.New()
	return PeerID(hex.EncodeToString(id[:]))
}

// String returns the hex-encoded identity.
func (p PeerID) String() string {
	return string(p)
}
