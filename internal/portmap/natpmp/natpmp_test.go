package natpmp

import (
	"context"
	"errors"
	"testing"

	gonatpmp "github.com/jackpal/go-nat-pmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
)

type fakeClient struct {
	addResult *gonatpmp.AddPortMappingResult
	addErr    error
	extResult *gonatpmp.GetExternalAddressResult
	extErr    error

	lastInternalPort int
	lastExternalPort int
	lastLifetime     int
}

func (f *fakeClient) AddPortMapping(_ string, internalPort, requestedExternalPort, lifetime int) (*gonatpmp.AddPortMappingResult, error) {
	f.lastInternalPort = internalPort
	f.lastExternalPort = requestedExternalPort
	f.lastLifetime = lifetime
	return f.addResult, f.addErr
}

func (f *fakeClient) GetExternalAddress() (*gonatpmp.GetExternalAddressResult, error) {
	return f.extResult, f.extErr
}

func newTestMapper(c client) *Mapper {
	return &Mapper{client: c, mappings: make(map[uint16]portmap.Mapping)}
}

func TestMapperMapUsesGatewayGrantedPort(t *testing.T) {
	fake := &fakeClient{
		addResult: &gonatpmp.AddPortMappingResult{MappedExternalPort: 5001, PortMappingLifetimeInSeconds: 3600},
		extResult: &gonatpmp.GetExternalAddressResult{ExternalIPAddress: [4]byte{203, 0, 113, 9}},
	}
	m := newTestMapper(fake)

	mapping, err := m.Map(context.Background(), 4000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(4000), mapping.InternalPort)
	assert.Equal(t, uint16(5001), mapping.ExternalPort)
	assert.Equal(t, "203.0.113.9", mapping.ExternalIP)
	assert.Equal(t, 4000, fake.lastInternalPort)
	assert.Equal(t, DefaultLeaseSeconds, fake.lastLifetime)
}

func TestMapperMapPropagatesError(t *testing.T) {
	fake := &fakeClient{addErr: errors.New("gateway refused mapping")}
	m := newTestMapper(fake)

	_, err := m.Map(context.Background(), 4000, 0)
	require.Error(t, err)
	var mapErr *portmap.MappingError
	assert.ErrorAs(t, err, &mapErr)
}

func TestMapperUnmapRequestsZeroLifetime(t *testing.T) {
	fake := &fakeClient{addResult: &gonatpmp.AddPortMappingResult{}}
	m := newTestMapper(fake)
	m.mappings[5001] = portmap.Mapping{ExternalPort: 5001}

	require.NoError(t, m.Unmap(context.Background(), 5001))
	assert.Equal(t, 0, fake.lastLifetime)

	_, stillPresent := m.mappings[5001]
	assert.False(t, stillPresent)
}
