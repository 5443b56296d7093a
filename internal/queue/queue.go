package queue

import (
	"container/heap"
	"fmt"
	"math/rand/v2"
)

// Time is a logical simulation timestamp in milliseconds. It never
// reads the wall clock; the only source of Time values is the Queue
// itself, the caller's own arithmetic on a previously-observed Time,
// or a test's literal constant.
type Time int64

// ============================================================================
//                              event heap
// ============================================================================

// event is one scheduled callback. seq breaks ties between events
// sharing a timestamp: the heap compares (ts, seq), so insertion order
// among same-ts events is preserved — the FIFO tie-break the simulator
// depends on for reproducible traces.
type event struct {
	ts    Time
	seq   uint64
	fn    func()
	index int // heap index, maintained by Swap/Push/Pop
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].ts != h[j].ts {
		return h[i].ts < h[j].ts
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	n := len(*h)
	e := x.(*event)
	e.index = n
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

// ============================================================================
//                              Queue
// ============================================================================

// Queue is the simulator's single time-ordered callback scheduler plus
// its single seeded source of randomness. Network and NAT thread
// Queue.Rand() through their latency/loss/port-allocation decisions so
// that a given seed reproduces an identical trace.
type Queue struct {
	heap eventHeap
	ts   Time
	seq  uint64
	rng  *rand.Rand
}

// New returns a Queue seeded deterministically from seed.
func New(seed uint64) *Queue {
	q := &Queue{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	heap.Init(&q.heap)
	return q
}

// Now returns the timestamp of the most recently begun event, i.e.
// Queue.ts from the spec: the floor below which no new event may be
// scheduled.
func (q *Queue) Now() Time { return q.ts }

// Rand returns the queue's seeded PRNG. Network latency/loss decisions
// and NAT port allocation must draw from this and only this source.
func (q *Queue) Rand() *rand.Rand { return q.rng }

// Add schedules fn to run at ts. ts must be >= Queue.Now(); violating
// this is a caller bug (an event is being scheduled into the past),
// so Add panics rather than silently reordering history.
func (q *Queue) Add(ts Time, fn func()) {
	if ts < q.ts {
		panic(fmt.Sprintf("queue: scheduled ts %d before queue ts %d", ts, q.ts))
	}
	q.seq++
	heap.Push(&q.heap, &event{ts: ts, seq: q.seq, fn: fn})
}

// Drain pops and invokes every event with ts <= upTo, in (ts, insertion
// order). Before invoking an event, Queue.ts is advanced to that
// event's ts, so callbacks scheduled by fn observe the correct "now"
// and Add's monotonicity check admits them.
//
// fn may itself call Add; a freshly-added event lands in the heap and
// is drained in this same call if its ts <= upTo.
func (q *Queue) Drain(upTo Time) {
	for q.heap.Len() > 0 && q.heap[0].ts <= upTo {
		e := heap.Pop(&q.heap).(*event)
		q.ts = e.ts
		e.fn()
	}
}

// Empty reports whether the queue has no pending events.
func (q *Queue) Empty() bool { return q.heap.Len() == 0 }

// Peek returns the timestamp of the next pending event and true, or
// zero and false if the queue is empty.
func (q *Queue) Peek() (Time, bool) {
	if q.heap.Len() == 0 {
		return 0, false
	}
	return q.heap[0].ts, true
}
