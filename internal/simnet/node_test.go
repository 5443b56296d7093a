package simnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/internal/queue"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

func TestTimerZeroDelayFiresSynchronously(t *testing.T) {
	q := queue.New(1)
	h := NewHost(q, 1)

	fired := false
	h.Timer(0, 0, func() { fired = true })
	assert.True(t, fired, "zero-delay timer must fire before Timer returns")
}

func TestTimerRepeatFiresOnSchedule(t *testing.T) {
	q := queue.New(1)
	h := NewHost(q, 1)

	var fires []queue.Time
	h.Timer(10*time.Millisecond, 10*time.Millisecond, func() {
		fires = append(fires, q.Now())
	})
	q.Drain(35)

	assert.Equal(t, []queue.Time{10, 20, 30}, fires)
}

func TestTimerCancelStopsFutureFirings(t *testing.T) {
	q := queue.New(1)
	h := NewHost(q, 1)

	var fires int
	cancel := h.Timer(10*time.Millisecond, 10*time.Millisecond, func() { fires++ })
	q.Drain(15)
	assert.Equal(t, 1, fires)

	cancel()
	q.Drain(100)
	assert.Equal(t, 1, fires)
}

func TestSleepCollapsesRepeatedTimerFirings(t *testing.T) {
	q := queue.New(1)
	h := NewHost(q, 1)

	var fires int
	h.Timer(10*time.Millisecond, 10*time.Millisecond, func() { fires++ })

	q.Drain(10) // one firing while awake
	assert.Equal(t, 1, fires)

	h.Sleep()
	q.Drain(50) // four periods elapse while asleep: 20, 30, 40, 50
	assert.Equal(t, 1, fires, "no firings should be delivered while asleep")

	h.Wake()
	assert.Equal(t, 2, fires, "exactly one catch-up firing on wake, not one per missed period")
}

func TestSleepQueuesInboundMessagesInOrder(t *testing.T) {
	q := queue.New(1)
	net := NewNetwork(q)
	net.Init(q.Now())

	a := NewHost(q, 1)
	b := NewHost(q, 2)
	net.Add(1, a)
	net.Add(2, b)
	require.NoError(t, a.Bind(100))
	require.NoError(t, b.Bind(200))

	var received []string
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		received = append(received, string(data))
	})

	b.Sleep()
	require.NoError(t, a.Send([]byte("one"), types.Endpoint{Address: 2, Port: 200}, 100))
	require.NoError(t, a.Send([]byte("two"), types.Endpoint{Address: 2, Port: 200}, 100))
	q.Drain(1000)
	assert.Empty(t, received, "messages must not be dispatched while asleep")

	b.Wake()
	assert.Equal(t, []string{"one", "two"}, received)
}
