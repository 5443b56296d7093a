package udptransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

func newLoopbackConn(t *testing.T) (*Conn, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.LocalAddress = types.Address(0x7f000001) // 127.0.0.1
	cfg.Clock = mock
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mock
}

func runInBackground(t *testing.T, c *Conn) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	return cancel
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	a, _ := newLoopbackConn(t)
	b, _ := newLoopbackConn(t)
	aPort := types.Port(31101)
	bPort := types.Port(31102)
	require.NoError(t, a.Bind(aPort))
	require.NoError(t, b.Bind(bPort))

	var mu sync.Mutex
	var got []byte
	gotCh := make(chan struct{})
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		mu.Lock()
		got = append([]byte(nil), data...)
		mu.Unlock()
		assert.Equal(t, bPort, recvPort)
		close(gotCh)
	})

	cancelA := runInBackground(t, a)
	cancelB := runInBackground(t, b)
	defer cancelA()
	defer cancelB()

	loopback := types.Address(0x7f000001)
	require.NoError(t, a.Send([]byte("hello"), types.Endpoint{Address: loopback, Port: bPort}, aPort))

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("hello"), got)
}

func TestSendOnUnboundPortReturnsErrPortNotBound(t *testing.T) {
	c, _ := newLoopbackConn(t)
	err := c.Send([]byte("x"), types.Endpoint{}, 4000)
	assert.ErrorIs(t, err, ErrPortNotBound)
}

func TestBindSamePortTwiceReturnsErrPortAlreadyBound(t *testing.T) {
	c, _ := newLoopbackConn(t)
	port := types.Port(31103)
	require.NoError(t, c.Bind(port))
	assert.ErrorIs(t, c.Bind(port), ErrPortAlreadyBound)
}

func TestZeroDelayTimerFiresSynchronously(t *testing.T) {
	c, _ := newLoopbackConn(t)
	fired := false
	c.Timer(0, 0, func() { fired = true })
	assert.True(t, fired, "zero-delay timer must fire before Timer returns")
}

func TestDelayedTimerFiresOnceViaRun(t *testing.T) {
	c, mock := newLoopbackConn(t)
	cancel := runInBackground(t, c)
	defer cancel()

	firedCh := make(chan struct{})
	c.Timer(5*time.Second, 0, func() { close(firedCh) })

	mock.Add(5 * time.Second)

	select {
	case <-firedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelledTimerNeverFires(t *testing.T) {
	c, mock := newLoopbackConn(t)
	cancel := runInBackground(t, c)
	defer cancel()

	fired := false
	cancelTimer := c.Timer(5*time.Second, 0, func() { fired = true })
	cancelTimer()

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, fired)
}

func TestSleepBuffersMessagesUntilWake(t *testing.T) {
	a, _ := newLoopbackConn(t)
	b, _ := newLoopbackConn(t)
	aPort := types.Port(31104)
	bPort := types.Port(31105)
	require.NoError(t, a.Bind(aPort))
	require.NoError(t, b.Bind(bPort))

	var mu sync.Mutex
	var count int
	b.OnMessage(func(data []byte, src types.Endpoint, recvPort types.Port, ts time.Time) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	cancelA := runInBackground(t, a)
	cancelB := runInBackground(t, b)
	defer cancelA()
	defer cancelB()

	b.Sleep()
	loopback := types.Address(0x7f000001)
	require.NoError(t, a.Send([]byte("ping"), types.Endpoint{Address: loopback, Port: bPort}, aPort))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, count, "message must not be dispatched while asleep")
	mu.Unlock()

	b.Wake()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count, "buffered message must be dispatched on Wake")
	mu.Unlock()
}

func TestRepeatingTimerCollapsesMissedFiringsWhileAsleep(t *testing.T) {
	c, mock := newLoopbackConn(t)
	cancel := runInBackground(t, c)
	defer cancel()

	var mu sync.Mutex
	var count int
	c.Timer(time.Second, time.Second, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	c.Sleep()
	mock.Add(5 * time.Second) // five periods would fire while asleep
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()

	c.Wake()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, count, "missed periods must collapse into one catch-up call")
	mu.Unlock()
}

func TestCloseStopsReaderGoroutines(t *testing.T) {
	c, _ := newLoopbackConn(t)
	port := types.Port(31106)
	require.NoError(t, c.Bind(port))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Bind(port), ErrClosed)
}
