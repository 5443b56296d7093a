package udptransport

import "errors"

// ErrPortAlreadyBound is returned by Bind when the given port already
// has an open socket on this Conn.
var ErrPortAlreadyBound = errors.New("udptransport: port already bound")

// ErrPortNotBound is returned by Send when fromPort has no open socket.
var ErrPortNotBound = errors.New("udptransport: port not bound")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("udptransport: connection closed")
