package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/internal/simnet"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

// failingMapper always fails Map, exercising the fallback to a Prober.
type failingMapper struct{}

func (failingMapper) Map(ctx context.Context, internalPort uint16, lifetime time.Duration) (portmap.Mapping, error) {
	return portmap.Mapping{}, errors.New("no gateway")
}
func (failingMapper) Unmap(ctx context.Context, externalPort uint16) error { return nil }
func (failingMapper) Close() error                                        { return nil }

// fakeProber returns a fixed address/port, or an error if primed to fail.
type fakeProber struct {
	ip   string
	port uint16
	err  error
}

func (f fakeProber) Probe(ctx context.Context, localPort uint16) (string, uint16, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.ip, f.port, nil
}

func TestRunPreliminaryPortMappingFallsBackToProberWhenMapperFails(t *testing.T) {
	q := queue.New(30)
	h := simnet.NewHost(q, 1)

	p, err := New(types.DefaultConfig(), types.NewPeerID(), h, time.Now(),
		WithPortMapper(failingMapper{}),
		WithPortProber(fakeProber{ip: "203.0.113.9", port: 4242}),
	)
	require.NoError(t, err)

	wantAddr, err := types.ParseAddress("203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, wantAddr, p.mappedEndpoint.Address)
	assert.Equal(t, types.Port(4242), p.mappedEndpoint.Port)
}

func TestRunPreliminaryPortMappingSwallowsProberFailure(t *testing.T) {
	q := queue.New(31)
	h := simnet.NewHost(q, 1)

	p, err := New(types.DefaultConfig(), types.NewPeerID(), h, time.Now(),
		WithPortMapper(failingMapper{}),
		WithPortProber(fakeProber{err: errors.New("no servers answered")}),
	)
	require.NoError(t, err)

	assert.Zero(t, p.mappedEndpoint)
}

func TestRunPreliminaryPortMappingSkipsIntroducer(t *testing.T) {
	q := queue.New(32)
	h := simnet.NewHost(q, 1)

	cfg := types.DefaultConfig()
	cfg.IsIntroducer = true
	p, err := New(cfg, types.NewPeerID(), h, time.Now(),
		WithPortProber(fakeProber{ip: "198.51.100.1", port: 1}),
	)
	require.NoError(t, err)

	assert.Zero(t, p.mappedEndpoint)
}
