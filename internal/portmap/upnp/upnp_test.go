package upnp

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/internal/portmap"
)

type fakeIGDClient struct {
	addErr      error
	delErr      error
	externalIP  string
	externalErr error

	lastAddExternalPort uint16
	lastDelExternalPort uint16
}

func (f *fakeIGDClient) AddPortMapping(_ string, extPort uint16, _ string, _ uint16, _ string, _ bool, _ string, _ uint32) error {
	f.lastAddExternalPort = extPort
	return f.addErr
}

func (f *fakeIGDClient) DeletePortMapping(_ string, extPort uint16, _ string) error {
	f.lastDelExternalPort = extPort
	return f.delErr
}

func (f *fakeIGDClient) GetExternalIPAddress() (string, error) {
	return f.externalIP, f.externalErr
}

func newTestMapper(client igdClient) *Mapper {
	return &Mapper{
		client:   client,
		mappings: make(map[uint16]portmap.Mapping),
		localIP:  func() (net.IP, error) { return net.IPv4(192, 168, 1, 50), nil },
	}
}

func TestMapperMap(t *testing.T) {
	fake := &fakeIGDClient{externalIP: "203.0.113.5"}
	m := newTestMapper(fake)

	mapping, err := m.Map(context.Background(), 4000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(4000), mapping.InternalPort)
	assert.Equal(t, uint16(4000), mapping.ExternalPort)
	assert.Equal(t, "203.0.113.5", mapping.ExternalIP)
	assert.Equal(t, DefaultLeaseDuration, mapping.Lifetime)
	assert.Equal(t, uint16(4000), fake.lastAddExternalPort)
}

func TestMapperMapPropagatesAddError(t *testing.T) {
	fake := &fakeIGDClient{addErr: errors.New("gateway rejected mapping")}
	m := newTestMapper(fake)

	_, err := m.Map(context.Background(), 4000, 0)
	require.Error(t, err)
}

func TestMapperUnmapClearsStoredMapping(t *testing.T) {
	fake := &fakeIGDClient{externalIP: "203.0.113.5"}
	m := newTestMapper(fake)

	_, err := m.Map(context.Background(), 4000, 0)
	require.NoError(t, err)
	require.NoError(t, m.Unmap(context.Background(), 4000))

	m.mu.Lock()
	_, stillPresent := m.mappings[4000]
	m.mu.Unlock()
	assert.False(t, stillPresent)
	assert.Equal(t, uint16(4000), fake.lastDelExternalPort)
}
