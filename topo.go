package wansim

// topo.go contains the run-time representations of the simulated
// topology: nodes, the interfaces embedded in them, and the
// point-to-point links that join interfaces.  Link operational state
// lives here; the transitions that model fault injection and repair
// are logged with the virtual time at which they take effect.

import (
	"fmt"
	"net/netip"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
)

// devRole tags a node with the part it plays in the scenario
type devRole int

const (
	clientRole devRole = iota
	routerRole
	serverRole
	attackerRole
)

var roleToStr map[devRole]string = map[devRole]string{
	clientRole: "client", routerRole: "router",
	serverRole: "server", attackerRole: "attacker"}

// devRoleFromStr maps the role tag used in topology description files
// to the internal code
func devRoleFromStr(role string) (devRole, error) {
	switch role {
	case "client":
		return clientRole, nil
	case "router":
		return routerRole, nil
	case "server":
		return serverRole, nil
	case "attacker":
		return attackerRole, nil
	}
	return clientRole, fmt.Errorf("unrecognized node role %s", role)
}

// A Node is a device in the topology.  Routers (and any node with
// more than one interface) own a routing table; endpoints own the
// generators and sinks that terminate traffic
type Node struct {
	name    string
	id      int
	role    devRole
	intrfcs []*Intrfc
	rtTbl   *RoutingTable
	state   *nodeState
}

// nodeState holds the mutable per-node side of the simulation
type nodeState struct {
	rngstrm     *rngstream.RngStream
	lookupFails int // packets with no viable route at forwarding time
	admitDrops  int // packets refused by the admission controller
}

// createNode is a constructor.  The id is drawn from the owning
// experiment so that ids are unique within a run but carry no
// process-wide state
func createNode(ex *Experiment, name string, role devRole) *Node {
	node := new(Node)
	node.name = name
	node.id = ex.nxtID()
	node.role = role
	node.intrfcs = make([]*Intrfc, 0)
	node.state = &nodeState{rngstrm: rngstream.New(name)}
	return node
}

// addIntrfc appends an interface to the node's list
func (node *Node) addIntrfc(intrfc *Intrfc) {
	node.intrfcs = append(node.intrfcs, intrfc)
}

// ownsAddr reports whether any interface on the node carries the
// given address, marking the node as a packet's final destination
func (node *Node) ownsAddr(addr netip.Addr) bool {
	for _, intrfc := range node.intrfcs {
		if intrfc.addr == addr {
			return true
		}
	}
	return false
}

// An Intrfc is one attachment point of a node to a link.  Every
// interface carries exactly one address
type Intrfc struct {
	name   string
	number int
	device *Node
	addr   netip.Addr
	link   *Link
}

// createIntrfc is a constructor
func createIntrfc(ex *Experiment, node *Node, name string, addr netip.Addr) *Intrfc {
	intrfc := new(Intrfc)
	intrfc.name = name
	intrfc.number = ex.nxtID()
	intrfc.device = node
	intrfc.addr = addr
	node.addIntrfc(intrfc)
	return intrfc
}

// LinkState is the operational state of a link.  The three fault
// models seen in the field (MTU zeroing, administrative interface
// down, link-layer down) collapse onto this one abstraction
type LinkState int

const (
	LinkUp LinkState = iota
	LinkDown
)

// A Link is a point-to-point connection between two interfaces.
// Capacity is in Mbps, latency is the one-way propagation delay in
// seconds.  Each direction has its own transmitter so traffic in one
// direction never queues behind traffic in the other
type Link struct {
	name     string
	number   int
	endptA   *Intrfc
	endptB   *Intrfc
	capacity float64 // Mbps
	latency  float64 // seconds
	lossProb float64 // physical-layer loss, drawn per packet
	state    LinkState
	tapped   bool // promiscuous capture point for the eavesdropper
	xmtrA    *linkXmtr
	xmtrB    *linkXmtr
}

// createLink is a constructor.  qosClasses and qosCapacity shape the
// egress queues: qosClasses > 1 installs the strict-priority
// discipline, otherwise a single FIFO class is used
func createLink(ex *Experiment, name string, a, b *Intrfc,
	capacity, latency float64, qosClasses, qosCapacity int) *Link {

	lnk := new(Link)
	lnk.name = name
	lnk.number = ex.nxtID()
	lnk.endptA = a
	lnk.endptB = b
	lnk.capacity = capacity
	lnk.latency = latency
	lnk.state = LinkUp
	lnk.xmtrA = createLinkXmtr(ex, lnk, a, qosClasses, qosCapacity)
	lnk.xmtrB = createLinkXmtr(ex, lnk, b, qosClasses, qosCapacity)
	a.link = lnk
	b.link = lnk
	return lnk
}

// peer returns the interface on the far side of the link from intrfc
func (lnk *Link) peer(intrfc *Intrfc) *Intrfc {
	if intrfc == lnk.endptA {
		return lnk.endptB
	}
	return lnk.endptA
}

// xmtr returns the transmitter serving egress from the given interface
func (lnk *Link) xmtr(from *Intrfc) *linkXmtr {
	if from == lnk.endptA {
		return lnk.xmtrA
	}
	return lnk.xmtrB
}

// SetDown transitions the link Up -> Down at the current virtual time.
// Route entries bound to the link are left in place; failover works
// entirely through the skip-if-Down filter in Lookup
func (lnk *Link) SetDown(ex *Experiment, evtMgr *evtm.EventManager) {
	if lnk.state == LinkDown {
		return
	}
	lnk.state = LinkDown
	now := evtMgr.CurrentSeconds()
	ex.logger.Warn("link failure", "link", lnk.name, "time", now)
	ex.traceMgr.AddLinkTrace(evtMgr.CurrentTime(), lnk.number, "down")
	if ex.dynamicRouting {
		ex.scheduleReconvergence(evtMgr)
	}
}

// SetUp transitions the link Down -> Up at the current virtual time
func (lnk *Link) SetUp(ex *Experiment, evtMgr *evtm.EventManager) {
	if lnk.state == LinkUp {
		return
	}
	lnk.state = LinkUp
	now := evtMgr.CurrentSeconds()
	ex.logger.Info("link restored", "link", lnk.name, "time", now)
	ex.traceMgr.AddLinkTrace(evtMgr.CurrentTime(), lnk.number, "up")
	if ex.dynamicRouting {
		ex.scheduleReconvergence(evtMgr)
	}
}
