package wansim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pv(prio int) *Packet {
	return &Packet{size: 100, prio: prio}
}

func TestPrioQueueStrictOrder(t *testing.T) {
	pq := CreatePrioQueue(3, 50)

	// arrival order mixes the classes; service order must not
	low1, low2 := pv(2), pv(2)
	mid := pv(1)
	high1, high2 := pv(0), pv(0)
	for _, pckt := range []*Packet{low1, high1, mid, low2, high2} {
		require.True(t, pq.Enqueue(pckt))
	}

	assert.Same(t, high1, pq.Dequeue())
	assert.Same(t, high2, pq.Dequeue())
	assert.Same(t, mid, pq.Dequeue())
	assert.Same(t, low1, pq.Dequeue())
	assert.Same(t, low2, pq.Dequeue())
	assert.Nil(t, pq.Dequeue())
}

// TestPrioQueueStrictOrderAllInterleavings enumerates every ordering
// of 3 high-class enqueues, 3 low-class enqueues and 3 interleaved
// dequeues, then drains the queue, and checks at each dequeue point
// that no low-class packet is returned while a high-class packet is
// still waiting
func TestPrioQueueStrictOrderAllInterleavings(t *testing.T) {
	const opHigh, opLow, opDeq = 0, 1, 2

	run := func(ops []int) {
		pq := CreatePrioQueue(2, 50)
		waitingHigh := 0
		serve := func() {
			pckt := pq.Dequeue()
			if pckt == nil {
				return
			}
			if pckt.prio == 0 {
				waitingHigh -= 1
				return
			}
			require.Zero(t, waitingHigh,
				"low-class packet served ahead of a waiting high-class packet in sequence %v", ops)
		}
		for _, op := range ops {
			switch op {
			case opHigh:
				pq.Enqueue(pv(0))
				waitingHigh += 1
			case opLow:
				pq.Enqueue(pv(1))
			case opDeq:
				serve()
			}
		}
		for pq.Len() > 0 {
			serve()
		}
	}

	var ops []int
	var walk func(e0, e1, d int)
	walk = func(e0, e1, d int) {
		if e0 == 0 && e1 == 0 && d == 0 {
			run(ops)
			return
		}
		if e0 > 0 {
			ops = append(ops, opHigh)
			walk(e0-1, e1, d)
			ops = ops[:len(ops)-1]
		}
		if e1 > 0 {
			ops = append(ops, opLow)
			walk(e0, e1-1, d)
			ops = ops[:len(ops)-1]
		}
		if d > 0 {
			ops = append(ops, opDeq)
			walk(e0, e1, d-1)
			ops = ops[:len(ops)-1]
		}
	}
	walk(3, 3, 3)
}

func TestPrioQueueHighArrivalPreemptsService(t *testing.T) {
	pq := CreatePrioQueue(2, 50)

	pq.Enqueue(pv(1))
	pq.Enqueue(pv(1))
	first := pq.Dequeue()
	assert.Equal(t, 1, first.prio)

	// a high-priority arrival between dequeues is served next even
	// though low-priority packets were there first
	high := pv(0)
	pq.Enqueue(high)
	assert.Same(t, high, pq.Dequeue())
	assert.Equal(t, 1, pq.Dequeue().prio)
}

func TestPrioQueueTailDropIsolation(t *testing.T) {
	pq := CreatePrioQueue(2, 2)

	require.True(t, pq.Enqueue(pv(1)))
	require.True(t, pq.Enqueue(pv(1)))
	// the low class is full; its overflow cannot touch the high class
	assert.False(t, pq.Enqueue(pv(1)))
	assert.True(t, pq.Enqueue(pv(0)))

	assert.Equal(t, 1, pq.ClassDrops(1))
	assert.Equal(t, 0, pq.ClassDrops(0))
	assert.Equal(t, 1, pq.Drops())
	assert.Equal(t, 3, pq.Len())
}

func TestPrioQueueClassifyClamps(t *testing.T) {
	pq := CreatePrioQueue(2, 50)

	assert.Equal(t, 0, pq.Classify(pv(-3)))
	assert.Equal(t, 0, pq.Classify(pv(0)))
	assert.Equal(t, 1, pq.Classify(pv(1)))
	// markings beyond the installed classes fold into the lowest class
	assert.Equal(t, 1, pq.Classify(pv(7)))
}

func TestPrioQueueSingleClassFIFO(t *testing.T) {
	pq := CreatePrioQueue(1, 50)

	a, b, c := pv(0), pv(1), pv(0)
	pq.Enqueue(a)
	pq.Enqueue(b)
	pq.Enqueue(c)

	assert.Same(t, a, pq.Dequeue())
	assert.Same(t, b, pq.Dequeue())
	assert.Same(t, c, pq.Dequeue())
}
