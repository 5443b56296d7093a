package peer

import (
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
	"github.com/dep2p/nat-traversal-sim/internal/util/logger"
	"github.com/dep2p/nat-traversal-sim/pkg/transport"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

var log = logger.Logger("peer")

// retryWindow is how recently a ping must have been sent to T for
// retryPing to treat a new call as a no-op.
const retryWindow = time.Second

// connectAttempt tracks one in-flight connection attempt toward a
// target, keyed the same way as the connecting table below.
type connectAttempt struct {
	startedAt time.Time
	cancel    transport.CancelFunc // non-nil while a BDP batch is running
}

// Peer is the reactive NAT-traversal state machine: every transition is
// driven by an inbound message or timer callback, never a goroutine.
type Peer struct {
	cfg       types.Config
	id        types.PeerID
	transport transport.Adapter
	log       *slog.Logger

	restart time.Time

	nat           types.NATType
	publicAddress types.Address
	publicPort    types.Port
	pong          *types.PongState

	peers  map[types.PeerID]*types.PeerRecord
	swarms map[string]*types.Swarm

	// joined tracks swarm ids this Peer itself has asked to join (via
	// Join), used to decide whether an unsolicited MsgConnect.Swarm
	// should add the sender to that swarm: only if already a member.
	joined map[string]bool

	// joinRequests remembers the last Join call per swarm so a wakeup
	// on a detected wall-clock skew can resend it.
	joinRequests map[string]joinRequest

	connecting map[types.PeerID]*connectAttempt
	notified   map[types.PeerID]bool // per-peer, see DESIGN.md Open Question #3

	evalActive   bool
	evalPongs    []types.Port
	evalTestSeen bool
	evalCancel   transport.CancelFunc

	keepaliveCancel transport.CancelFunc

	lastKeepaliveTick time.Time

	// portMapper drives the preliminary port-mapping phase, when set
	// via WithPortMapper. Nil for every simulated Peer: the simulator
	// has no router to map a port on.
	portMapper portmap.Mapper

	// portProber is a read-only fallback for the preliminary phase,
	// set via WithPortProber, tried only if portMapper is nil or fails.
	portProber portmap.Prober

	// mappedEndpoint is a hint from the preliminary port-mapping phase,
	// kept separate from publicAddress/publicPort: those are set
	// exclusively by a pong from a trusted introducer, never by a
	// router-reported mapping.
	mappedEndpoint types.Endpoint
}

// natEvalTimeout bounds how long NAT evaluation waits for both
// introducers to respond before deciding from whatever arrived.
const natEvalTimeout = 2 * time.Second

// New constructs a Peer, binds its ports, and enters NAT evaluation.
// bootTime is recorded as the Peer's restart timestamp.
func New(cfg types.Config, id types.PeerID, adapter transport.Adapter, bootTime time.Time, opts ...Option) (*Peer, error) {
	cfg.Validate()

	p := &Peer{
		cfg:          cfg,
		id:           id,
		transport:    adapter,
		log:          log.With("peer", string(id)),
		restart:      bootTime,
		peers:        make(map[types.PeerID]*types.PeerRecord),
		swarms:       make(map[string]*types.Swarm),
		joined:       make(map[string]bool),
		joinRequests: make(map[string]joinRequest),
		connecting:   make(map[types.PeerID]*connectAttempt),
		notified:     make(map[types.PeerID]bool),
	}
	for _, opt := range opts {
		opt(p)
	}

	var bindErr error
	if err := adapter.Bind(cfg.LocalPort); err != nil {
		bindErr = multierr.Append(bindErr, err)
	}
	if err := adapter.Bind(cfg.TestPort); err != nil {
		bindErr = multierr.Append(bindErr, err)
	}
	if bindErr != nil {
		return nil, &BindError{Cause: bindErr}
	}

	adapter.OnMessage(p.handleMessage)

	if cfg.KeepAlive > 0 {
		p.lastKeepaliveTick = adapter.Now()
		p.keepaliveCancel = adapter.Timer(cfg.KeepAlive, cfg.KeepAlive, p.keepaliveTick)
	}

	p.runPreliminaryPortMapping()
	p.evaluateNAT()

	return p, nil
}

// ID returns this Peer's id.
func (p *Peer) ID() types.PeerID { return p.id }

// NAT returns the Peer's currently classified NAT type.
func (p *Peer) NAT() types.NATType { return p.nat }

// PublicEndpoint returns the Peer's believed public address/port, or
// the zero Endpoint if not yet known.
func (p *Peer) PublicEndpoint() types.Endpoint {
	return types.Endpoint{Address: p.publicAddress, Port: p.publicPort}
}

// MappedEndpoint returns the router-reported endpoint from the
// preliminary port-mapping phase, or the zero Endpoint if none was
// obtained. It is advisory only: PublicEndpoint is the trusted value
// once NAT evaluation completes.
func (p *Peer) MappedEndpoint() types.Endpoint {
	return p.mappedEndpoint
}

// PeerRecord returns the known record for id, if any.
func (p *Peer) PeerRecord(id types.PeerID) (*types.PeerRecord, bool) {
	r, ok := p.peers[id]
	return r, ok
}

// addPeer returns the existing record for id or creates a fresh one,
// lifecycle: a record is created on first learned contact.
func (p *Peer) addPeer(id types.PeerID) *types.PeerRecord {
	r, ok := p.peers[id]
	if !ok {
		r = &types.PeerRecord{ID: id}
		p.peers[id] = r
	}
	return r
}

func (p *Peer) isIntroducer(src types.Endpoint) bool {
	return src == p.cfg.IntroducerA || src == p.cfg.IntroducerB
}

// addSwarm returns the existing Swarm record for id or creates one.
func (p *Peer) addSwarm(id string) *types.Swarm {
	s, ok := p.swarms[id]
	if !ok {
		s = types.NewSwarm(id)
		p.swarms[id] = s
	}
	return s
}
