package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainOrdersByTimestamp(t *testing.T) {
	q := New(1)
	var order []int

	q.Add(30, func() { order = append(order, 3) })
	q.Add(10, func() { order = append(order, 1) })
	q.Add(20, func() { order = append(order, 2) })

	q.Drain(100)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, Time(30), q.Now())
}

func TestDrainStopsAtUpTo(t *testing.T) {
	q := New(1)
	var fired []Time

	q.Add(10, func() { fired = append(fired, 10) })
	q.Add(20, func() { fired = append(fired, 20) })
	q.Add(30, func() { fired = append(fired, 30) })

	q.Drain(20)
	assert.Equal(t, []Time{10, 20}, fired)
	assert.Equal(t, Time(20), q.Now())

	next, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, Time(30), next)

	q.Drain(30)
	assert.Equal(t, []Time{10, 20, 30}, fired)
	assert.True(t, q.Empty())
}

func TestSameTimestampFIFO(t *testing.T) {
	q := New(1)
	var order []string

	q.Add(5, func() { order = append(order, "a") })
	q.Add(5, func() { order = append(order, "b") })
	q.Add(5, func() { order = append(order, "c") })

	q.Drain(5)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestEventScheduledDuringDrainRunsIfInWindow(t *testing.T) {
	q := New(1)
	var order []Time

	q.Add(10, func() {
		order = append(order, 10)
		q.Add(15, func() { order = append(order, 15) })
	})
	q.Add(20, func() { order = append(order, 20) })

	q.Drain(20)
	assert.Equal(t, []Time{10, 15, 20}, order)
}

func TestAddBeforeQueueTimePanics(t *testing.T) {
	q := New(1)
	q.Add(10, func() {})
	q.Drain(10)

	assert.Panics(t, func() {
		q.Add(5, func() {})
	})
}

func TestDeterministicAcrossRunsWithSameSeed(t *testing.T) {
	run := func() ([]int, []uint64) {
		q := New(42)
		var order []int
		var draws []uint64
		for i := 0; i < 5; i++ {
			i := i
			q.Add(Time(i*10), func() {
				order = append(order, i)
				draws = append(draws, q.Rand().Uint64())
			})
		}
		q.Drain(1000)
		return order, draws
	}

	order1, draws1 := run()
	order2, draws2 := run()
	assert.Equal(t, order1, order2)
	assert.Equal(t, draws1, draws2)
}

func TestPeekOnEmptyQueue(t *testing.T) {
	q := New(1)
	_, ok := q.Peek()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}
