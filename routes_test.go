package wansim

import (
	"net/netip"
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoPathTable builds a node with a table holding a primary and a
// backup entry for the same destination over two distinct links
func twoPathTable(t *testing.T) (*Experiment, *RoutingTable, *Link, *Link, netip.Addr) {
	t.Helper()
	ex := CreateExperiment("tbl", nil)
	r1 := ex.AddNode("r1", routerRole)
	far := ex.AddNode("far", serverRole)
	r1a := ex.AddIntrfc(r1, "eth0", netip.MustParseAddr("10.0.1.1"))
	r1b := ex.AddIntrfc(r1, "eth1", netip.MustParseAddr("10.0.2.1"))
	farA := ex.AddIntrfc(far, "eth0", netip.MustParseAddr("10.0.1.2"))
	farB := ex.AddIntrfc(far, "eth1", netip.MustParseAddr("10.0.2.2"))
	primary := ex.AddLink("primary", r1a, farA, 10.0, 0.001, 1, 50)
	backup := ex.AddLink("backup", r1b, farB, 10.0, 0.001, 1, 50)

	tbl := createRoutingTable(r1)
	dest := netip.MustParseAddr("10.0.1.2")
	tbl.AddRoute(hostPrefix(dest), farA.addr, primary, 1, "primary")
	tbl.AddRoute(hostPrefix(dest), farB.addr, backup, 100, "backup")
	return ex, tbl, primary, backup, dest
}

func TestLookupPrefersLowestMetric(t *testing.T) {
	_, tbl, primary, _, dest := twoPathTable(t)

	entry, ok := tbl.Lookup(dest)
	require.True(t, ok)
	assert.Equal(t, primary, entry.link)
	assert.Equal(t, 1, entry.metric)
}

func TestLookupSkipsDownLinks(t *testing.T) {
	_, tbl, primary, backup, dest := twoPathTable(t)

	primary.state = LinkDown
	entry, ok := tbl.Lookup(dest)
	require.True(t, ok)
	assert.Equal(t, backup, entry.link, "a Down egress link must never be returned")

	backup.state = LinkDown
	_, ok = tbl.Lookup(dest)
	assert.False(t, ok)

	// restoring the primary makes it viable again without any table change
	primary.state = LinkUp
	entry, ok = tbl.Lookup(dest)
	require.True(t, ok)
	assert.Equal(t, primary, entry.link)
}

func TestLookupMetricTieKeepsFirstInserted(t *testing.T) {
	_, tbl, primary, backup, dest := twoPathTable(t)
	tbl.RemoveRoute(hostPrefix(dest))
	tbl.AddRoute(hostPrefix(dest), netip.MustParseAddr("10.0.1.2"), primary, 5, "first")
	tbl.AddRoute(hostPrefix(dest), netip.MustParseAddr("10.0.2.2"), backup, 5, "second")

	entry, ok := tbl.Lookup(dest)
	require.True(t, ok)
	assert.Equal(t, "first", entry.tag)
}

func TestRemoveRouteIdempotent(t *testing.T) {
	_, tbl, _, _, dest := twoPathTable(t)
	pfx := hostPrefix(dest)

	assert.Equal(t, 2, tbl.RemoveRoute(pfx))
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.RemoveRoute(pfx), "removing an absent prefix is a no-op")
}

func TestSteererParity(t *testing.T) {
	_, tbl, primary, backup, dest := twoPathTable(t)
	hopA := netip.MustParseAddr("10.0.1.2")
	hopB := netip.MustParseAddr("10.0.2.2")
	ps := createPolicySteerer(tbl, hostPrefix(dest), hopA, primary, hopB, backup, 5.0)

	// setup installs hop A before any toggle
	assert.Equal(t, hopA, ps.ActiveHop())
	entry, ok := tbl.Lookup(dest)
	require.True(t, ok)
	assert.Equal(t, hopA, entry.nextHop)
	assert.Equal(t, 1, tbl.Len(), "steering replaces, never accumulates")

	for k := 1; k <= 5; k += 1 {
		ps.Toggle()
		want := hopA
		if k%2 == 1 {
			want = hopB
		}
		assert.Equal(t, want, ps.ActiveHop(), "after %d toggles", k)
		entry, ok = tbl.Lookup(dest)
		require.True(t, ok)
		assert.Equal(t, want, entry.nextHop)
		assert.Equal(t, 1, tbl.Len())
	}
}

func TestRoutingTableSnapshot(t *testing.T) {
	_, tbl, _, _, _ := twoPathTable(t)

	descs := tbl.Snapshot()
	require.Len(t, descs, 2)
	assert.Equal(t, "r1", descs[0].Node)
	assert.Equal(t, "primary", descs[0].Tag)
	assert.Equal(t, "primary", descs[0].Link)
	assert.Equal(t, "10.0.1.2/32", descs[0].Dest)
	assert.Equal(t, "backup", descs[1].Tag)
	assert.Equal(t, 100, descs[1].Metric)
}

func TestScheduledFailureFlipsLookup(t *testing.T) {
	ex, tbl, primary, backup, dest := twoPathTable(t)
	ex.AddFailover(primary, 4.0, 0.0)

	evtMgr := evtm.New()
	ex.evtMgr = evtMgr
	for _, ft := range ex.failovers {
		ft.schedule(ex, evtMgr)
	}

	var at39, at41 *RouteEntry
	probe := func(m *evtm.EventManager, cxt any, data any) any {
		entry, ok := tbl.Lookup(dest)
		require.True(t, ok)
		*(cxt.(**RouteEntry)) = entry
		return nil
	}
	evtMgr.Schedule(&at39, nil, probe, secondsToTime(3.9))
	evtMgr.Schedule(&at41, nil, probe, secondsToTime(4.1))
	evtMgr.Run(5.0)

	assert.Equal(t, primary, at39.link)
	assert.Equal(t, 1, at39.metric)
	assert.Equal(t, backup, at41.link, "after the 4.0s failure the metric-100 entry wins")
	assert.Equal(t, 100, at41.metric)
}

func TestReconvergeInstallsLivePaths(t *testing.T) {
	cfg := ScenarioCfg{Dynamic: true}
	ex, _ := BuildFailoverScenario(cfg, nil)

	ex.Reconverge()
	r1 := ex.NodeByName("r1")
	serverAddr := netip.MustParseAddr("10.1.2.2")
	entry, ok := r1.rtTbl.Lookup(serverAddr)
	require.True(t, ok)
	assert.Equal(t, ex.LinkByName("primary"), entry.link, "shortest live path is the direct link")
	assert.Equal(t, 1, entry.metric)

	// with the primary down the recomputed path detours through r2
	ex.LinkByName("primary").state = LinkDown
	ex.Reconverge()
	entry, ok = r1.rtTbl.Lookup(serverAddr)
	require.True(t, ok)
	assert.Equal(t, ex.LinkByName("transit"), entry.link)
	assert.Equal(t, 2, entry.metric)
}

func TestReconvergeRebuildsTablesInStableOrder(t *testing.T) {
	cfg := ScenarioCfg{Dynamic: true}

	// two identical experiments, and a repeated pass within one, must
	// install the same entries in the same order
	exA, _ := BuildFailoverScenario(cfg, nil)
	exB, _ := BuildFailoverScenario(cfg, nil)
	exA.Reconverge()
	exB.Reconverge()

	snapA := exA.NodeByName("r1").rtTbl.Snapshot()
	snapB := exB.NodeByName("r1").rtTbl.Snapshot()
	require.NotEmpty(t, snapA)
	assert.Equal(t, snapA, snapB)

	exA.Reconverge()
	assert.Equal(t, snapA, exA.NodeByName("r1").rtTbl.Snapshot())
}
