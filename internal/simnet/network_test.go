package simnet

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

func TestLocalDeliveryWithinSubnet(t *testing.T) {
	q := queue.New(1)
	net := NewNetwork(q)
	net.Init(q.Now())

	a := NewHost(q, 1)
	b := NewHost(q, 2)
	net.Add(1, a)
	net.Add(2, b)

	require.NoError(t, a.Bind(100))
	require.NoError(t, b.Bind(200))

	var got []byte
	var gotSrc types.Endpoint
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		got = data
		gotSrc = src
	})

	require.NoError(t, a.Send([]byte("hello"), types.Endpoint{Address: 2, Port: 200}, 100))

	q.Drain(1000)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, types.Address(1), gotSrc.Address)
	assert.Equal(t, types.Port(100), gotSrc.Port)
}

func TestSendOutsideSubnetFailsAtBaseNetwork(t *testing.T) {
	q := queue.New(1)
	net := NewNetwork(q)
	net.Init(q.Now())

	a := NewHost(q, 1)
	net.Add(1, a)
	require.NoError(t, a.Bind(100))

	err := a.Send([]byte("x"), types.Endpoint{Address: 99, Port: 200}, 100)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestLossProbabilityDropsPackets(t *testing.T) {
	q := queue.New(7)
	net := NewNetwork(q, WithLossProbability(1.0))
	net.Init(q.Now())

	a := NewHost(q, 1)
	b := NewHost(q, 2)
	net.Add(1, a)
	net.Add(2, b)
	require.NoError(t, a.Bind(100))
	require.NoError(t, b.Bind(200))

	delivered := false
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		delivered = true
	})

	require.NoError(t, a.Send([]byte("x"), types.Endpoint{Address: 2, Port: 200}, 100))
	q.Drain(1000)
	assert.False(t, delivered)
}

func TestLatencyDelaysDelivery(t *testing.T) {
	q := queue.New(3)
	net := NewNetwork(q, WithLatency(func(rng *rand.Rand) time.Duration { return 50 * time.Millisecond }))
	net.Init(q.Now())

	a := NewHost(q, 1)
	b := NewHost(q, 2)
	net.Add(1, a)
	net.Add(2, b)
	require.NoError(t, a.Bind(100))
	require.NoError(t, b.Bind(200))

	var deliveredAt time.Time
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		deliveredAt = ts
	})

	require.NoError(t, a.Send([]byte("x"), types.Endpoint{Address: 2, Port: 200}, 100))
	q.Drain(1000)
	assert.Equal(t, int64(50), deliveredAt.UnixMilli())
}
