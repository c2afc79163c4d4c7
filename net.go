package wansim

// net.go contains the code that moves packets through the topology:
// forwarding at each node, admission control at protected routers,
// and transmission across links.  A link transmitter serializes one
// packet at a time; while it is busy, later packets wait in its
// egress queue and are released in strict-priority order.  All the
// recoverable failures on this path (no viable route, admission
// refusal, queue tail drop, physical-layer loss) are counted and
// logged, never raised.

import (
	"github.com/iti/evt/evtm"
)

// packetPrio values carried in a packet's marking.  prioHigh is the
// expedited-forwarding-like tag set by the voice generator
const (
	prioHigh = 0
	prioBest = 1
)

// ipsec encapsulation model: per-packet byte overhead and the
// processing delay charged at each tunnel endpoint
const (
	ipsecOverhead   = 56
	ipsecCryptoTime = 100e-6
)

// maxHops bounds forwarding so a misconfigured table cannot loop a
// packet forever
const maxHops = 32

// A Packet is the unit of traffic.  The flow key identifies the
// directional flow it belongs to; sentAt is the virtual time its
// source emitted it, which the receiver uses to compute one-way delay
type Packet struct {
	id     int
	key    FlowKey
	size   int // bytes on the wire, including any encapsulation
	prio   int
	sentAt float64
	hops   int
}

// A linkXmtr serves egress from one interface onto its link.  One
// packet is in serialization at a time; the strict-priority queue
// holds the rest
type linkXmtr struct {
	ex    *Experiment
	lnk   *Link
	from  *Intrfc
	busy  bool
	queue *PrioQueue
}

// createLinkXmtr is a constructor
func createLinkXmtr(ex *Experiment, lnk *Link, from *Intrfc, qosClasses, qosCapacity int) *linkXmtr {
	xmtr := new(linkXmtr)
	xmtr.ex = ex
	xmtr.lnk = lnk
	xmtr.from = from
	xmtr.queue = CreatePrioQueue(qosClasses, qosCapacity)
	return xmtr
}

// serviceTime is the serialization delay of a packet at the link's
// capacity (capacity in Mbps, size in bytes)
func (xmtr *linkXmtr) serviceTime(pckt *Packet) float64 {
	bits := float64(8 * pckt.size)
	return bits / (xmtr.lnk.capacity * 1e6)
}

// SourceSend injects a freshly generated packet at its source node.
// The sent event is recorded here; encryption overhead and processing
// delay are charged when the experiment models an encrypted tunnel
func (ex *Experiment) SourceSend(evtMgr *evtm.EventManager, src *Node, pckt *Packet) {
	now := evtMgr.CurrentSeconds()
	pckt.id = ex.nxtID()
	pckt.sentAt = now

	ex.recordPcktEvent(PcktSent, now, pckt, 0)
	if len(src.intrfcs) > 0 {
		ex.bus.publish(src.id, src.intrfcs[0].number, TxTrace, now, pckt)
	}
	ex.traceMgr.AddPcktTrace(evtMgr.CurrentTime(), pckt.id, src.id, pckt.size, tkToStr[TxTrace])

	if ex.ipsec {
		pckt.size += ipsecOverhead
		evtMgr.Schedule(&nodeHop{ex: ex, node: src}, pckt, nodeFwdEvt, secondsToTime(ipsecCryptoTime))
		return
	}
	ex.forwardFromNode(evtMgr, src, nil, pckt)
}

// nodeHop bundles the context a deferred forwarding step needs
type nodeHop struct {
	ex      *Experiment
	node    *Node
	ingress *Intrfc
}

// nodeFwdEvt resumes forwarding at a node after a scheduled delay
func nodeFwdEvt(evtMgr *evtm.EventManager, context any, data any) any {
	hop := context.(*nodeHop)
	hop.ex.forwardFromNode(evtMgr, hop.node, hop.ingress, data.(*Packet))
	return nil
}

// forwardFromNode decides what a node does with a packet: deliver it
// if the node owns the destination address, otherwise admit, look up
// the next hop, and hand the packet to the egress transmitter.
// ingress is the interface the packet arrived through, nil when the
// packet originated at this node
func (ex *Experiment) forwardFromNode(evtMgr *evtm.EventManager, node *Node, ingress *Intrfc, pckt *Packet) {
	now := evtMgr.CurrentSeconds()

	if node.ownsAddr(pckt.key.Dst) {
		ex.deliver(evtMgr, node, ingress, pckt)
		return
	}

	pckt.hops += 1
	if pckt.hops > maxHops {
		ex.dropPckt(evtMgr, node, ingress, pckt, "drop:loop")
		return
	}

	// admission control applies to transit packets at a protected node
	if ingress != nil {
		rl, present := ex.limiters[node.id]
		if present && !rl.AllowPacket(pckt.size, pckt.key.Src, now) {
			node.state.admitDrops += 1
			ex.dropPckt(evtMgr, node, ingress, pckt, "drop:admit")
			return
		}
	}

	var egress *Intrfc
	if node.rtTbl != nil {
		entry, ok := node.rtTbl.Lookup(pckt.key.Dst)
		if !ok {
			node.state.lookupFails += 1
			ex.dropPckt(evtMgr, node, ingress, pckt, "drop:unreachable")
			return
		}
		egress = entry.link.localIntrfc(node)
	} else {
		// stub endpoint: single attachment acts as the default route
		egress = ex.stubEgress(node, ingress)
	}

	if egress == nil {
		node.state.lookupFails += 1
		ex.dropPckt(evtMgr, node, ingress, pckt, "drop:unreachable")
		return
	}
	egress.link.xmtr(egress).send(evtMgr, pckt)
}

// localIntrfc returns the link endpoint interface owned by node
func (lnk *Link) localIntrfc(node *Node) *Intrfc {
	if lnk.endptA.device == node {
		return lnk.endptA
	}
	return lnk.endptB
}

// stubEgress picks the egress interface of a node with no routing
// table: its first interface that is not the one the packet came in on
func (ex *Experiment) stubEgress(node *Node, ingress *Intrfc) *Intrfc {
	for _, intrfc := range node.intrfcs {
		if intrfc != ingress && intrfc.link != nil {
			return intrfc
		}
	}
	return nil
}

// deliver terminates a packet at its destination node, computing the
// one-way delay from the embedded send time.  Decryption cost is
// charged before the receive is recorded when the tunnel is modeled
func (ex *Experiment) deliver(evtMgr *evtm.EventManager, node *Node, ingress *Intrfc, pckt *Packet) {
	if ex.ipsec {
		pckt.size -= ipsecOverhead
		evtMgr.Schedule(&nodeHop{ex: ex, node: node, ingress: ingress}, pckt, deliverEvt, secondsToTime(ipsecCryptoTime))
		return
	}
	ex.completeDelivery(evtMgr, node, ingress, pckt)
}

// deliverEvt completes a delivery deferred for decryption processing
func deliverEvt(evtMgr *evtm.EventManager, context any, data any) any {
	hop := context.(*nodeHop)
	hop.ex.completeDelivery(evtMgr, hop.node, hop.ingress, data.(*Packet))
	return nil
}

// completeDelivery records the receive event and fires the Rx trace
// point at the arrival interface
func (ex *Experiment) completeDelivery(evtMgr *evtm.EventManager, node *Node, ingress *Intrfc, pckt *Packet) {
	now := evtMgr.CurrentSeconds()
	delay := now - pckt.sentAt
	ex.recordPcktEvent(PcktRecv, now, pckt, delay)
	ex.traceMgr.AddPcktTrace(evtMgr.CurrentTime(), pckt.id, node.id, pckt.size, tkToStr[RxTrace])
	devID := -1
	if ingress != nil {
		devID = ingress.number
	}
	ex.bus.publish(node.id, devID, RxTrace, now, pckt)
}

// dropPckt records a recoverable loss, labeled with its reason, and
// fires the Drop trace point
func (ex *Experiment) dropPckt(evtMgr *evtm.EventManager, node *Node, ingress *Intrfc, pckt *Packet, op string) {
	now := evtMgr.CurrentSeconds()
	ex.recordPcktEvent(PcktDrop, now, pckt, 0)
	ex.traceMgr.AddPcktTrace(evtMgr.CurrentTime(), pckt.id, node.id, pckt.size, op)
	devID := -1
	if ingress != nil {
		devID = ingress.number
	}
	ex.bus.publish(node.id, devID, DropTrace, now, pckt)
}

// send offers a packet to the transmitter.  A Down link is a
// physical-layer drop; a busy transmitter queues the packet under the
// strict-priority discipline, tail dropping when the class is full
func (xmtr *linkXmtr) send(evtMgr *evtm.EventManager, pckt *Packet) {
	ex := xmtr.ex
	node := xmtr.from.device

	if xmtr.lnk.state == LinkDown {
		ex.dropPckt(evtMgr, node, xmtr.from, pckt, "drop:linkdown")
		return
	}

	if xmtr.busy {
		if !xmtr.queue.Enqueue(pckt) {
			ex.dropPckt(evtMgr, node, xmtr.from, pckt, "drop:queue")
		}
		return
	}
	xmtr.serve(evtMgr, pckt)
}

// serve starts serializing a packet onto the link
func (xmtr *linkXmtr) serve(evtMgr *evtm.EventManager, pckt *Packet) {
	xmtr.busy = true
	evtMgr.Schedule(xmtr, pckt, xmtrDoneEvt, secondsToTime(xmtr.serviceTime(pckt)))
}

// xmtrDoneEvt fires when serialization completes.  The packet is
// launched toward the peer (or lost to the physical-layer draw), and
// the next queued packet, if any, enters service
func xmtrDoneEvt(evtMgr *evtm.EventManager, context any, data any) any {
	xmtr := context.(*linkXmtr)
	pckt := data.(*Packet)
	ex := xmtr.ex
	lnk := xmtr.lnk

	if lnk.state == LinkDown {
		// the link failed mid-flight; the bits never arrive
		ex.dropPckt(evtMgr, xmtr.from.device, xmtr.from, pckt, "drop:linkdown")
	} else if lnk.lossProb > 0.0 && xmtr.from.device.state.rngstrm.RandU01() < lnk.lossProb {
		ex.dropPckt(evtMgr, xmtr.from.device, xmtr.from, pckt, "drop:phy")
	} else {
		evtMgr.Schedule(xmtr, pckt, pcktArriveEvt, secondsToTime(lnk.latency))
	}

	xmtr.busy = false
	next := xmtr.queue.Dequeue()
	if next != nil {
		xmtr.serve(evtMgr, next)
	}
	return nil
}

// pcktArriveEvt fires when a packet lands at the far end of a link.
// A tapped link feeds the promiscuous trace point at the arriving
// interface before forwarding resumes, so a tap subscribed at both
// endpoints sees each traversal exactly once
func pcktArriveEvt(evtMgr *evtm.EventManager, context any, data any) any {
	xmtr := context.(*linkXmtr)
	pckt := data.(*Packet)
	ex := xmtr.ex
	peer := xmtr.lnk.peer(xmtr.from)
	now := evtMgr.CurrentSeconds()

	if xmtr.lnk.tapped {
		ex.bus.publish(peer.device.id, peer.number, PromiscRxTrace, now, pckt)
	}

	ex.forwardFromNode(evtMgr, peer.device, peer, pckt)
	return nil
}
