package types

import "time"

// Protocol constants fixed by the wire contract.
const (
	// DefaultLocalPort is the peer's main UDP port.
	DefaultLocalPort Port = 3456
	// DefaultTestPort receives unsolicited MsgTest probes; arrival proves
	// static reachability.
	DefaultTestPort Port = 3457

	// BDP is the send cadence for the easy side of a birthday-paradox punch.
	BDP = 10 * time.Millisecond
	// BDPMaxPackets bounds how many ports the easy side will try before
	// giving up.
	BDPMaxPackets = 1000
	// ConnectingMaxTime is BDP * BDPMaxPackets: how long a connection
	// attempt is considered "in flight" for dedup purposes.
	ConnectingMaxTime = BDP * BDPMaxPackets
	// KeepAliveTimeout (T) drives the liveness classification thresholds.
	KeepAliveTimeout = 29 * time.Second
	// HardSideFreshPorts is how many local ports the hard side opens to
	// punch toward an easy/static peer.
	HardSideFreshPorts = 256
)

// Config configures one Peer instance.
type Config struct {
	// LocalPort is the peer's main bound UDP port.
	LocalPort Port
	// TestPort receives MsgTest probes from introducers.
	TestPort Port

	// IntroducerA and IntroducerB are the two rendezvous peers used for
	// NAT evaluation. A MsgTest from either one is enough for Static;
	// telling Easy from Hard needs pongs from both.
	IntroducerA Endpoint
	IntroducerB Endpoint

	// KeepAlive is the interval between keepalive ticks. Zero disables
	// the keepalive loop entirely.
	KeepAlive time.Duration

	// ConnectingMaxTime overrides the default attempt-dedup window.
	ConnectingMaxTime time.Duration

	// KeepAliveTimeout overrides the default liveness threshold unit T.
	KeepAliveTimeout time.Duration

	// BDPInterval overrides the send cadence for the easy side of BDP.
	BDPInterval time.Duration

	// BDPMaxPackets overrides how many ports the easy side tries.
	BDPMaxPackets int

	// IsIntroducer marks this peer as a statically-reachable rendezvous
	// point: it answers MsgIntro/MsgJoin for every peer it knows and
	// replies to MsgPing with both MsgPong and MsgTest.
	IsIntroducer bool
}

// DefaultConfig returns a Config with the wire-level protocol defaults and
// no keepalive loop (callers opt in by setting KeepAlive).
func DefaultConfig() Config {
	return Config{
		LocalPort:         DefaultLocalPort,
		TestPort:          DefaultTestPort,
		ConnectingMaxTime: ConnectingMaxTime,
		KeepAliveTimeout:  KeepAliveTimeout,
		BDPInterval:       BDP,
		BDPMaxPackets:     BDPMaxPackets,
	}
}

// Validate fills in zero-valued fields with protocol defaults. It never
// fails: every field has a sane default, so misconfiguration surfaces as
// unexpected behavior to catch in tests, not a constructor error.
func (c *Config) Validate() {
	if c.LocalPort == 0 {
		c.LocalPort = DefaultLocalPort
	}
	if c.TestPort == 0 {
		c.TestPort = DefaultTestPort
	}
	if c.ConnectingMaxTime <= 0 {
		c.ConnectingMaxTime = ConnectingMaxTime
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = KeepAliveTimeout
	}
	if c.BDPInterval <= 0 {
		c.BDPInterval = BDP
	}
	if c.BDPMaxPackets <= 0 {
		c.BDPMaxPackets = BDPMaxPackets
	}
}
