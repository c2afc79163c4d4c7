package wansim

// routes.go holds the routing table model, the failure trigger that
// drives failover, the policy steering controller, and the
// reconvergence pass used when dynamic routing is enabled.  Static
// tables never change on a failure: viability is decided per lookup
// by filtering out entries whose egress link is Down, so a primary
// entry shadowed by a failure is skipped rather than removed.

import (
	"math"
	"net/netip"
	"sort"

	"github.com/iti/evt/evtm"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// A RouteEntry binds a destination network to a next hop reached
// through a specific link.  Lower metric is preferred.  The tag is
// informational ("primary"/"backup"); preference comes only from the
// metric and the insertion order
type RouteEntry struct {
	dest    netip.Prefix
	nextHop netip.Addr
	link    *Link
	metric  int
	tag     string
}

// A RoutingTable is an insertion-ordered collection of entries owned
// by one node.  Multiple entries for the same destination are allowed
// and expected: that is how primary/backup pairs are expressed
type RoutingTable struct {
	node    *Node
	entries []*RouteEntry
}

// createRoutingTable is a constructor, attaching the table to its node
func createRoutingTable(node *Node) *RoutingTable {
	rt := new(RoutingTable)
	rt.node = node
	rt.entries = make([]*RouteEntry, 0)
	node.rtTbl = rt
	return rt
}

// AddRoute inserts an entry at the end of the table.  No uniqueness
// constraint is imposed
func (rt *RoutingTable) AddRoute(dest netip.Prefix, nextHop netip.Addr,
	lnk *Link, metric int, tag string) {

	entry := &RouteEntry{dest: dest, nextHop: nextHop, link: lnk, metric: metric, tag: tag}
	rt.entries = append(rt.entries, entry)
}

// RemoveRoute removes every entry whose destination prefix matches
// exactly, returning how many were removed.  A non-matching call is a
// no-op, not an error
func (rt *RoutingTable) RemoveRoute(dest netip.Prefix) int {
	removed := 0
	kept := rt.entries[:0]
	for _, entry := range rt.entries {
		if entry.dest == dest {
			removed += 1
			continue
		}
		kept = append(kept, entry)
	}
	rt.entries = kept
	return removed
}

// Lookup scans the table for entries covering dest, filters out any
// whose egress link is Down, and returns the survivor with the lowest
// metric.  Ties go to the entry inserted first.  The second return is
// false when no viable entry exists
func (rt *RoutingTable) Lookup(dest netip.Addr) (*RouteEntry, bool) {
	var best *RouteEntry
	for _, entry := range rt.entries {
		if !entry.dest.Contains(dest) {
			continue
		}
		if entry.link != nil && entry.link.state == LinkDown {
			continue
		}
		// strict < keeps the first-inserted entry on a metric tie
		if best == nil || entry.metric < best.metric {
			best = entry
		}
	}
	return best, best != nil
}

// Len returns the number of entries in the table
func (rt *RoutingTable) Len() int {
	return len(rt.entries)
}

// Snapshot renders the table in its serializable description form,
// entries in table order
func (rt *RoutingTable) Snapshot() []RouteDesc {
	descs := make([]RouteDesc, 0, len(rt.entries))
	for _, entry := range rt.entries {
		rd := RouteDesc{
			Node:    rt.node.name,
			Dest:    entry.dest.String(),
			NextHop: entry.nextHop.String(),
			Metric:  entry.metric,
			Tag:     entry.tag,
		}
		if entry.link != nil {
			rd.Link = entry.link.name
		}
		descs = append(descs, rd)
	}
	return descs
}

// A FailoverTrigger schedules the failure of one link, and optionally
// its later restoration.  Both transitions are instantaneous at their
// scheduled virtual times
type FailoverTrigger struct {
	link      *Link
	failAt    float64
	restoreAt float64 // 0 means the link stays down
}

// schedule registers the trigger's transitions with the event manager
func (ft *FailoverTrigger) schedule(ex *Experiment, evtMgr *evtm.EventManager) {
	if ft.failAt > 0 {
		evtMgr.Schedule(ex, ft.link, linkFailEvt, secondsToTime(ft.failAt))
	}
	if ft.restoreAt > ft.failAt {
		evtMgr.Schedule(ex, ft.link, linkRestoreEvt, secondsToTime(ft.restoreAt))
	}
}

// linkFailEvt is the event handler for a scheduled link failure
func linkFailEvt(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	lnk := data.(*Link)
	lnk.SetDown(ex, evtMgr)
	return nil
}

// linkRestoreEvt is the event handler for a scheduled link restoration
func linkRestoreEvt(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	lnk := data.(*Link)
	lnk.SetUp(ex, evtMgr)
	return nil
}

// A PolicySteerer periodically rewrites one table's entry for a
// watched destination, alternating the next hop between two fixed
// choices.  This models explicit traffic steering; it shares the
// table primitives with failover but is a distinct control path
type PolicySteerer struct {
	tbl     *RoutingTable
	dest    netip.Prefix
	hopA    netip.Addr
	linkA   *Link
	hopB    netip.Addr
	linkB   *Link
	period  float64
	toggles int
	pending *pendingEvt
}

// createPolicySteerer is a constructor.  The initial entry, via hop A,
// is installed immediately; toggling starts one period later
func createPolicySteerer(tbl *RoutingTable, dest netip.Prefix,
	hopA netip.Addr, linkA *Link, hopB netip.Addr, linkB *Link, period float64) *PolicySteerer {

	ps := new(PolicySteerer)
	ps.tbl = tbl
	ps.dest = dest
	ps.hopA = hopA
	ps.linkA = linkA
	ps.hopB = hopB
	ps.linkB = linkB
	ps.period = period
	ps.tbl.RemoveRoute(dest)
	ps.tbl.AddRoute(dest, hopA, linkA, 1, "steered")
	return ps
}

// Start schedules the first toggle
func (ps *PolicySteerer) Start(evtMgr *evtm.EventManager) {
	ps.pending = schedulePending(evtMgr, ps, nil, steererToggleEvt, ps.period)
}

// Stop cancels the pending toggle so the steerer goes quiet
func (ps *PolicySteerer) Stop() {
	if ps.pending != nil {
		ps.pending.Cancel()
		ps.pending = nil
	}
}

// Toggle replaces the watched destination's entry with one via the
// other next hop.  After k toggles the active hop is A when k is
// even, B when k is odd
func (ps *PolicySteerer) Toggle() {
	ps.toggles += 1
	ps.tbl.RemoveRoute(ps.dest)
	if ps.toggles%2 == 0 {
		ps.tbl.AddRoute(ps.dest, ps.hopA, ps.linkA, 1, "steered")
	} else {
		ps.tbl.AddRoute(ps.dest, ps.hopB, ps.linkB, 1, "steered")
	}
}

// ActiveHop returns the next hop currently installed for the watched
// destination
func (ps *PolicySteerer) ActiveHop() netip.Addr {
	if ps.toggles%2 == 0 {
		return ps.hopA
	}
	return ps.hopB
}

// steererToggleEvt fires each steering period: swap the entry, then
// schedule the next swap
func steererToggleEvt(evtMgr *evtm.EventManager, context any, data any) any {
	ps := context.(*PolicySteerer)
	ps.Toggle()
	ps.pending = schedulePending(evtMgr, ps, nil, steererToggleEvt, ps.period)
	return nil
}

// The reconvergence pass models the abstracted effect of a dynamic
// routing protocol: some time after a topology change, every routing
// table reflects shortest live paths again.  The graph work leans on
// gonum's Dijkstra; the protocol exchange itself is out of scope.

// scheduleReconvergence registers a reconvergence pass one convergence
// delay after the topology change that prompted it
func (ex *Experiment) scheduleReconvergence(evtMgr *evtm.EventManager) {
	evtMgr.Schedule(ex, nil, reconvergeEvt, secondsToTime(ex.convergenceDelay))
}

// reconvergeEvt recomputes every forwarding node's table from the
// live topology
func reconvergeEvt(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	ex.Reconverge()
	ex.logger.Info("routing reconverged", "time", evtMgr.CurrentSeconds())
	return nil
}

// liveGraph builds a gonum graph over node ids, with an edge for each
// link whose state is Up.  Edge weight 1 makes shortest-path equal
// minimum hop count, which is roughly what interior gateway protocols
// converge to
func (ex *Experiment) liveGraph() *simple.WeightedUndirectedGraph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, id := range ex.sortedNodeIDs() {
		connGraph.AddNode(simple.Node(id))
	}
	for _, name := range ex.sortedLinkNames() {
		lnk := ex.linkByName[name]
		if lnk.state == LinkDown {
			continue
		}
		we := simple.WeightedEdge{
			F: simple.Node(lnk.endptA.device.id),
			T: simple.Node(lnk.endptB.device.id),
			W: 1.0,
		}
		connGraph.SetWeightedEdge(we)
	}
	return connGraph
}

// Reconverge rewrites the routing table of every node that owns one,
// installing a single lowest-hop-count entry per destination prefix.
// Nodes and destinations are visited in a fixed order so repeated
// runs of an experiment rebuild identical tables
func (ex *Experiment) Reconverge() {
	connGraph := ex.liveGraph()
	for _, id := range ex.sortedNodeIDs() {
		node := ex.nodeByID[id]
		if node.rtTbl == nil {
			continue
		}
		spTree := path.DijkstraFrom(simple.Node(node.id), connGraph)
		node.rtTbl.entries = node.rtTbl.entries[:0]
		for _, dest := range ex.destPrefixes() {
			owner := ex.prefixOwner(dest)
			if owner == nil || owner.id == node.id {
				continue
			}
			nodeSeq, weight := spTree.To(int64(owner.id))
			if len(nodeSeq) < 2 || math.IsInf(weight, 1) {
				continue
			}
			nextID := nextHopID(nodeSeq)
			intrfc, peerIntrfc := ex.intrfcsBetween(node.id, nextID)
			if intrfc == nil {
				continue
			}
			node.rtTbl.AddRoute(dest, peerIntrfc.addr, intrfc.link, len(nodeSeq)-1, "dynamic")
		}
	}
}

// nextHopID extracts the id of the first device after the source on a
// gonum shortest path
func nextHopID(nodeSeq []graph.Node) int {
	return int(nodeSeq[1].ID())
}

// sortedNodeIDs returns the experiment's node ids in ascending order
func (ex *Experiment) sortedNodeIDs() []int {
	ids := make([]int, 0, len(ex.nodeByID))
	for id := range ex.nodeByID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// sortedLinkNames returns the experiment's link names in ascending
// order
func (ex *Experiment) sortedLinkNames() []string {
	names := make([]string, 0, len(ex.linkByName))
	for name := range ex.linkByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// destPrefixes lists the destination networks reconvergence installs
// routes for: one host prefix per endpoint interface address
func (ex *Experiment) destPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0)
	for _, id := range ex.sortedNodeIDs() {
		node := ex.nodeByID[id]
		if node.role == routerRole {
			continue
		}
		for _, intrfc := range node.intrfcs {
			prefixes = append(prefixes, netip.PrefixFrom(intrfc.addr, intrfc.addr.BitLen()))
		}
	}
	return prefixes
}

// prefixOwner finds the node owning an address inside the prefix
func (ex *Experiment) prefixOwner(dest netip.Prefix) *Node {
	for _, id := range ex.sortedNodeIDs() {
		node := ex.nodeByID[id]
		for _, intrfc := range node.intrfcs {
			if dest.Contains(intrfc.addr) {
				return node
			}
		}
	}
	return nil
}

// intrfcsBetween returns the pair of interfaces joining two directly
// connected devices, nil when no live link joins them.  Parallel live
// links tie-break by link name
func (ex *Experiment) intrfcsBetween(idA, idB int) (*Intrfc, *Intrfc) {
	for _, name := range ex.sortedLinkNames() {
		lnk := ex.linkByName[name]
		if lnk.state == LinkDown {
			continue
		}
		if lnk.endptA.device.id == idA && lnk.endptB.device.id == idB {
			return lnk.endptA, lnk.endptB
		}
		if lnk.endptB.device.id == idA && lnk.endptA.device.id == idB {
			return lnk.endptB, lnk.endptA
		}
	}
	return nil, nil
}
