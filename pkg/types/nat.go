package types

// NATType classifies how a peer's outbound mappings behave.
type NATType int

const (
	// NATUnknown means evaluation has not completed yet.
	NATUnknown NATType = iota
	// NATStatic peers are publicly reachable; no translation happens.
	NATStatic
	// NATEasy NATs keep one external port per (internal address, internal
	// port) regardless of destination (endpoint-independent mapping).
	NATEasy
	// NATHard NATs pick a fresh external port per destination
	// (address-and-port-dependent mapping).
	NATHard
)

// String returns the lowercase wire name used in ping/pong/test/connect/join payloads.
func (n NATType) String() string {
	switch n {
	case NATStatic:
		return "static"
	case NATEasy:
		return "easy"
	case NATHard:
		return "hard"
	default:
		return "unknown"
	}
}

// ParseNATType parses the wire name back into a NATType. An unrecognized
// name yields NATUnknown rather than an error, matching the wire contract
// that unknown field values should not abort message handling.
func ParseNATType(s string) NATType {
	switch s {
	case "static":
		return NATStatic
	case "easy":
		return NATEasy
	case "hard":
		return NATHard
	default:
		return NATUnknown
	}
}

// MarshalJSON renders the NATType using its wire name.
func (n NATType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

// UnmarshalJSON parses the wire name, defaulting unknown values to NATUnknown.
func (n *NATType) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*n = ParseNATType(s)
	return nil
}
