// Package types holds the wire-level and domain value types shared by the
// simulator, the transport adapters, and the peer state machine.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address is a 32-bit IPv4 address, stored host-order so that two Addresses
// compare and hash the same regardless of how they were parsed.
type Address uint32

// ErrInvalidAddress is returned by ParseAddress for malformed dotted-decimal input.
var ErrInvalidAddress = errors.New("types: invalid IPv4 address")

// ParseAddress parses dotted-decimal notation ("10.0.0.1") into an Address.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, ErrInvalidAddress
	}
	var out uint32
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return 0, ErrInvalidAddress
		}
		out = out<<8 | uint32(v)
	}
	return Address(out), nil
}

// MustParseAddress is ParseAddress for literals known to be valid at compile time.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address as dotted decimal.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Port is a UDP port number.
type Port uint16

// Endpoint is a (Address, Port) pair identifying one side of a flow.
type Endpoint struct {
	Address Address
	Port    Port
}

// String renders the endpoint as "address:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// IsZero reports whether the endpoint carries no address or port.
func (e Endpoint) IsZero() bool {
	return e.Address == 0 && e.Port == 0
}
