package udptransport

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/nat-traversal-sim/internal/util/logger"
	"github.com/dep2p/nat-traversal-sim/pkg/transport"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

var log = logger.Logger("udptransport")

// Config configures a Conn.
type Config struct {
	// LocalAddress is advertised by LocalAddress(). Zero means
	// autodetect via outbound routing at New time.
	LocalAddress types.Address

	// Clock is the time source driving Timer. Nil means clock.New(),
	// the real wall clock; tests inject clock.NewMock().
	Clock clock.Clock

	// EventBuffer bounds how many undelivered events (inbound
	// datagrams, timer firings) may queue before a producer blocks.
	EventBuffer int
}

// DefaultConfig returns a Config with package defaults; New fills
// zero fields of the Config it is given the same way.
func DefaultConfig() Config {
	return Config{EventBuffer: 256}
}

func (c *Config) validate() {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// timerHandle tracks one scheduled (possibly repeating) timer so Sleep
// can collapse missed firings into a single catch-up call on Wake,
// mirroring the simulator's contract exactly.
type timerHandle struct {
	fn          func()
	repeat      time.Duration
	cancelled   bool // only ever read/written from Conn.Run's goroutine
	pendingWake bool
	clockTimer  *clock.Timer
}

// event is one unit of work for Conn.Run's single dispatch loop: either
// an inbound datagram's handler call or a timer firing.
type event struct {
	handle *timerHandle // non-nil only for timer firings, for collapsing
	fn     func()
}

// Conn implements transport.Adapter over one or more bound UDP sockets.
type Conn struct {
	cfg       Config
	localAddr types.Address
	rng       *rand.Rand

	mu      sync.Mutex
	sockets map[types.Port]*net.UDPConn
	handler transport.MessageHandler
	closed  bool

	sleeping bool
	pending  []event
	timers   []*timerHandle

	events  chan event
	readWg  sync.WaitGroup
	closeCh chan struct{}
	once    sync.Once
}

var _ transport.Adapter = (*Conn)(nil)

// New creates a Conn with no bound ports yet; call Bind for each port
// the Peer needs before constructing the Peer.
func New(cfg Config) (*Conn, error) {
	cfg.validate()

	addr := cfg.LocalAddress
	if addr == 0 {
		detected, err := detectLocalAddress()
		if err != nil {
			return nil, fmt.Errorf("udptransport: detect local address: %w", err)
		}
		addr = detected
	}

	seed0, seed1, err := randomSeed()
	if err != nil {
		return nil, fmt.Errorf("udptransport: seed randomness: %w", err)
	}

	return &Conn{
		cfg:       cfg,
		localAddr: addr,
		rng:       rand.New(rand.NewPCG(seed0, seed1)),
		sockets:   make(map[types.Port]*net.UDPConn),
		events:    make(chan event, cfg.EventBuffer),
		closeCh:   make(chan struct{}),
	}, nil
}

// Bind opens a UDP socket on port and starts its reader goroutine.
func (c *Conn) Bind(port types.Port) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, exists := c.sockets[port]; exists {
		c.mu.Unlock()
		return ErrPortAlreadyBound
	}
	c.mu.Unlock()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return fmt.Errorf("udptransport: listen on port %d: %w", port, err)
	}

	c.mu.Lock()
	c.sockets[port] = udpConn
	c.mu.Unlock()

	c.readWg.Add(1)
	go c.readLoop(port, udpConn)
	return nil
}

func (c *Conn) readLoop(port types.Port, conn *net.UDPConn) {
	defer c.readWg.Done()
	buf := make([]byte, 1500)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				log.Debug("read loop stopped", "port", port, "err", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		src := endpointFromUDP(from)
		ts := c.cfg.Clock.Now()

		select {
		case c.events <- event{fn: func() { c.dispatch(data, src, port, ts) }}:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) dispatch(data []byte, src types.Endpoint, port types.Port, ts time.Time) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data, src, port, ts)
	}
}

// Send transmits data to to from fromPort, which must already be bound.
func (c *Conn) Send(data []byte, to types.Endpoint, fromPort types.Port) error {
	c.mu.Lock()
	udpConn, ok := c.sockets[fromPort]
	c.mu.Unlock()
	if !ok {
		return ErrPortNotBound
	}

	dst := &net.UDPAddr{IP: addressToIP(to.Address), Port: int(to.Port)}
	_, err := udpConn.WriteToUDP(data, dst)
	return err
}

// Timer schedules fn after delay via cfg.Clock. delay == 0 invokes fn
// synchronously before Timer returns, matching the zero-delay timer
// contract the simulator's adapter also implements; a subsequent
// repeat (if repeat > 0) is then scheduled relative to now.
func (c *Conn) Timer(delay, repeat time.Duration, fn func()) transport.CancelFunc {
	handle := &timerHandle{fn: fn, repeat: repeat}

	c.mu.Lock()
	c.timers = append(c.timers, handle)
	c.mu.Unlock()

	if delay == 0 {
		c.fireTimer(handle)
		if repeat > 0 {
			c.scheduleTimer(handle, repeat)
		}
	} else {
		c.scheduleTimer(handle, delay)
	}

	return func() {
		c.mu.Lock()
		handle.cancelled = true
		if handle.clockTimer != nil {
			handle.clockTimer.Stop()
		}
		c.mu.Unlock()
	}
}

func (c *Conn) scheduleTimer(handle *timerHandle, after time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handle.clockTimer = c.cfg.Clock.AfterFunc(after, func() {
		c.onTimerFired(handle)
	})
	c.mu.Unlock()
}

// onTimerFired runs on cfg.Clock's own goroutine; it only ever enqueues
// an event for Run's single consumer to process, never calls handle.fn
// directly, so a Peer's callbacks stay serialized against message
// delivery exactly as the simulator guarantees.
func (c *Conn) onTimerFired(handle *timerHandle) {
	select {
	case c.events <- event{handle: handle, fn: func() { c.fireTimerFromRun(handle) }}:
	case <-c.closeCh:
	}
}

func (c *Conn) fireTimerFromRun(handle *timerHandle) {
	if handle.cancelled {
		return
	}
	c.fireTimer(handle)
	if handle.repeat > 0 && !handle.cancelled {
		c.scheduleTimer(handle, handle.repeat)
	}
}

func (c *Conn) fireTimer(handle *timerHandle) {
	if handle.cancelled {
		return
	}
	handle.fn()
}

// LocalAddress returns the address this Conn advertises to peers.
func (c *Conn) LocalAddress() types.Address { return c.localAddr }

// OnMessage installs the single inbound handler for every bound port.
func (c *Conn) OnMessage(h transport.MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Sleep suspends delivery: subsequent events are buffered instead of
// dispatched until Wake.
func (c *Conn) Sleep() {
	c.mu.Lock()
	c.sleeping = true
	c.mu.Unlock()
}

// Wake resumes delivery, replaying buffered events FIFO. A buffered
// event may itself call Sleep again, in which case draining stops
// until the next Wake.
func (c *Conn) Wake() {
	c.mu.Lock()
	c.sleeping = false
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ev := range pending {
		c.mu.Lock()
		stillAsleep := c.sleeping
		c.mu.Unlock()
		if stillAsleep {
			c.mu.Lock()
			c.pending = append(c.pending, ev)
			c.mu.Unlock()
			continue
		}
		ev.fn()
	}
}

// Now returns the wall-clock time from cfg.Clock.
func (c *Conn) Now() time.Time { return c.cfg.Clock.Now() }

// Rand returns this Conn's independently-seeded generator.
func (c *Conn) Rand() *rand.Rand { return c.rng }

// Run drains the events channel on the calling goroutine, dispatching
// inbound messages and timer firings one at a time, until ctx is
// cancelled or Close is called. This is the single consumer every
// reader goroutine and every clock timer callback funnels into.
func (c *Conn) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return nil
		case ev := <-c.events:
			c.mu.Lock()
			asleep := c.sleeping
			if asleep {
				if ev.handle != nil {
					c.pending = collapse(c.pending, ev)
				} else {
					c.pending = append(c.pending, ev)
				}
			}
			c.mu.Unlock()
			if !asleep {
				ev.fn()
			}
		}
	}
}

// collapse appends ev to pending, replacing any earlier entry for the
// same repeating timer handle so multiple periods missed while asleep
// produce only one catch-up call on Wake.
func collapse(pending []event, ev event) []event {
	for i, existing := range pending {
		if existing.handle == ev.handle {
			pending[i] = ev
			return pending
		}
	}
	return append(pending, ev)
}

// Close stops all reader goroutines and closes every bound socket. It
// does not block waiting for Run to return; cancel Run's context too.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closeCh)

		c.mu.Lock()
		c.closed = true
		sockets := c.sockets
		c.mu.Unlock()

		for port, conn := range sockets {
			if cerr := conn.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("port %d: %w", port, cerr))
			}
		}
		c.readWg.Wait()
	})
	return err
}

func endpointFromUDP(addr *net.UDPAddr) types.Endpoint {
	ip := addr.IP.To4()
	if ip == nil {
		return types.Endpoint{Port: types.Port(addr.Port)}
	}
	return types.Endpoint{
		Address: types.Address(binary.BigEndian.Uint32(ip)),
		Port:    types.Port(addr.Port),
	}
}

func addressToIP(a types.Address) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, uint32(a))
	return ip
}

func detectLocalAddress() (types.Address, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	ip := conn.LocalAddr().(*net.UDPAddr).IP.To4()
	if ip == nil {
		return 0, fmt.Errorf("udptransport: no IPv4 local address")
	}
	return types.Address(binary.BigEndian.Uint32(ip)), nil
}

func randomSeed() (uint64, uint64, error) {
	var b [16]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]), nil
}
