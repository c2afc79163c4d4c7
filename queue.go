package wansim

// queue.go implements the strict-priority queue discipline installed
// on the egress side of a bottleneck link.  Class 0 is served ahead
// of everything else whenever it is non-empty; lower classes get no
// guaranteed share.  That trade-off is deliberate: it makes the
// worst-case delay of latency-sensitive traffic independent of
// best-effort load, accepting possible starvation of lower classes
// under sustained high-priority pressure.

// A QueueClass is one bounded FIFO of pending packets
type QueueClass struct {
	prio     int
	pckts    []*Packet
	capacity int
	drops    int // tail drops charged to this class
}

// A PrioQueue is an ordered set of classes; index 0 is the highest
// priority
type PrioQueue struct {
	classes []*QueueClass
}

// CreatePrioQueue is a constructor building nClasses classes, each
// bounded at capacity packets
func CreatePrioQueue(nClasses, capacity int) *PrioQueue {
	pq := new(PrioQueue)
	pq.classes = make([]*QueueClass, nClasses)
	for idx := 0; idx < nClasses; idx += 1 {
		pq.classes[idx] = &QueueClass{prio: idx, pckts: make([]*Packet, 0), capacity: capacity}
	}
	return pq
}

// Classify maps a packet to a class index using the priority marking
// it carries.  Markings beyond the installed class count fold into
// the lowest class
func (pq *PrioQueue) Classify(pckt *Packet) int {
	cls := pckt.prio
	if cls < 0 {
		cls = 0
	}
	if cls >= len(pq.classes) {
		cls = len(pq.classes) - 1
	}
	return cls
}

// Enqueue appends the packet to its class's FIFO.  A full class tail
// drops the packet silently, without touching other classes; the
// return reports whether the packet was accepted
func (pq *PrioQueue) Enqueue(pckt *Packet) bool {
	qc := pq.classes[pq.Classify(pckt)]
	if len(qc.pckts) >= qc.capacity {
		qc.drops += 1
		return false
	}
	qc.pckts = append(qc.pckts, pckt)
	return true
}

// Dequeue removes and returns the head of the lowest-indexed
// non-empty class, nil when every class is empty.  A lower class is
// served only when every class above it is completely empty at the
// moment of the call
func (pq *PrioQueue) Dequeue() *Packet {
	for _, qc := range pq.classes {
		if len(qc.pckts) == 0 {
			continue
		}
		var pckt *Packet
		pckt, qc.pckts = qc.pckts[0], qc.pckts[1:]
		return pckt
	}
	return nil
}

// Len returns the number of packets waiting across all classes
func (pq *PrioQueue) Len() int {
	count := 0
	for _, qc := range pq.classes {
		count += len(qc.pckts)
	}
	return count
}

// ClassDrops returns the tail drops charged to one class
func (pq *PrioQueue) ClassDrops(cls int) int {
	if cls < 0 || cls >= len(pq.classes) {
		return 0
	}
	return pq.classes[cls].drops
}

// Drops returns tail drops summed over all classes
func (pq *PrioQueue) Drops() int {
	count := 0
	for _, qc := range pq.classes {
		count += qc.drops
	}
	return count
}
