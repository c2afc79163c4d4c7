package wansim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCat(rpt *Report, name string) *CategoryStats {
	for _, cs := range rpt.Categories {
		if cs.Category == name {
			return cs
		}
	}
	return nil
}

func TestFailoverStaticKeepsTrafficFlowing(t *testing.T) {
	cfg := ScenarioCfg{SimTime: 8.0, FailAt: 4.0, RestoreAt: 30.0}
	ex, cl := BuildFailoverScenario(cfg, nil)

	ex.Run(0.0)
	rpt := ex.Report(cl, DefaultVerdictThresholds())

	voip := findCat(rpt, "voip")
	require.NotNil(t, voip)
	assert.Greater(t, voip.Recv, 300)
	// failover is per lookup: only a packet mid-flight on the primary
	// at the failure instant, or in flight at the end of the run, can
	// be lost
	assert.LessOrEqual(t, voip.Lost, 3)
	assert.Equal(t, 0, rpt.LookupFails, "static backup entry covers the outage")

	// deliveries continue past the failure instant, over the longer
	// backup path
	afterFail := 0
	for _, evt := range ex.EvtLog() {
		if evt.Kind == PcktRecv && evt.Time > 4.1 {
			afterFail += 1
		}
	}
	assert.Greater(t, afterFail, 100)
}

func TestFailoverBackupPathIsLonger(t *testing.T) {
	cfg := ScenarioCfg{SimTime: 8.0, FailAt: 4.0, RestoreAt: 30.0}
	ex, _ := BuildFailoverScenario(cfg, nil)

	ex.Run(0.0)

	var beforeMax, afterMin float64
	afterMin = 1.0
	for _, evt := range ex.EvtLog() {
		if evt.Kind != PcktRecv {
			continue
		}
		if evt.Time < 4.0 && evt.Delay > beforeMax {
			beforeMax = evt.Delay
		}
		if evt.Time > 4.1 && evt.Delay < afterMin {
			afterMin = evt.Delay
		}
	}
	assert.Greater(t, afterMin, beforeMax, "the r2 detour adds propagation delay")
}

func TestFailoverDynamicReconverges(t *testing.T) {
	cfg := ScenarioCfg{SimTime: 15.0, FailAt: 10.0, RestoreAt: 30.0, Dynamic: true}
	ex, cl := BuildFailoverScenario(cfg, nil)

	ex.Run(0.0)
	rpt := ex.Report(cl, DefaultVerdictThresholds())

	// the convergence gap after the failure shows up as lookup
	// failures, then the recomputed table restores delivery
	assert.Greater(t, rpt.LookupFails, 0)
	afterConverge := 0
	for _, evt := range ex.EvtLog() {
		if evt.Kind == PcktRecv && evt.Time > 10.1 {
			afterConverge += 1
		}
	}
	assert.Greater(t, afterConverge, 100)

	voip := findCat(rpt, "voip")
	require.NotNil(t, voip)
	assert.Greater(t, voip.Recv, 400)
}

func TestLinkRestoreReturnsToPrimary(t *testing.T) {
	cfg := ScenarioCfg{SimTime: 12.0, FailAt: 4.0, RestoreAt: 8.0}
	ex, _ := BuildFailoverScenario(cfg, nil)

	ex.Run(0.0)

	// after the restore the static primary entry is viable again, so
	// late deliveries ride the short path
	primaryDelay := 0.0
	for _, evt := range ex.EvtLog() {
		if evt.Kind == PcktRecv && evt.Time < 4.0 && evt.Delay > primaryDelay {
			primaryDelay = evt.Delay
		}
	}
	lateShort := 0
	for _, evt := range ex.EvtLog() {
		if evt.Kind == PcktRecv && evt.Time > 8.2 && evt.Delay <= primaryDelay {
			lateShort += 1
		}
	}
	assert.Greater(t, lateShort, 50)
	assert.Equal(t, LinkUp, ex.LinkByName("primary").state)
}

func TestQoSShieldsVoiceFromBulk(t *testing.T) {
	fifoEx, fifoCl := BuildQoSScenario(ScenarioCfg{SimTime: 30.0}, nil)
	fifoEx.Run(0.0)
	fifoRpt := fifoEx.Report(fifoCl, DefaultVerdictThresholds())

	qosEx, qosCl := BuildQoSScenario(ScenarioCfg{SimTime: 30.0, QoS: true}, nil)
	qosEx.Run(0.0)
	qosRpt := qosEx.Report(qosCl, DefaultVerdictThresholds())

	fifoVoip := findCat(fifoRpt, "voip")
	qosVoip := findCat(qosRpt, "voip")
	require.NotNil(t, fifoVoip)
	require.NotNil(t, qosVoip)

	// the shared FIFO backs up behind the bulk flood; strict priority
	// keeps voice delay near the propagation floor
	assert.Greater(t, fifoRpt.QueueDrops, 0)
	assert.Less(t, qosVoip.AvgDelay, fifoVoip.AvgDelay)
	assert.LessOrEqual(t, qosVoip.LossRatio, fifoVoip.LossRatio)
}

func TestQoSBulkBearsTheDrops(t *testing.T) {
	ex, _ := BuildQoSScenario(ScenarioCfg{SimTime: 30.0, QoS: true}, nil)
	ex.Run(0.0)

	bottleneck := ex.LinkByName("bottleneck")
	xmtr := bottleneck.xmtr(bottleneck.endptA)
	assert.Equal(t, 0, xmtr.queue.ClassDrops(prioHigh))
	assert.Equal(t, xmtr.queue.Drops(), xmtr.queue.ClassDrops(prioBest))
}

func TestSecurityLimiterShieldsVictim(t *testing.T) {
	// half the flood rate: each attacker pushes 250000 bytes per
	// second against a 125000 byte budget
	cfg := ScenarioCfg{SimTime: 20.0, Attackers: 2, RateLimit: 125000.0}
	ex, cl := BuildSecurityScenario(cfg, nil)

	ex.Run(0.0)
	rpt := ex.Report(cl, DefaultVerdictThresholds())

	assert.Greater(t, rpt.AdmitDrops, 0)

	attack := findCat(rpt, "attack")
	require.NotNil(t, attack)
	assert.Greater(t, attack.LossRatio, 0.3)

	voip := findCat(rpt, "voip")
	require.NotNil(t, voip)
	assert.Less(t, voip.LossRatio, 0.01, "legitimate traffic stays under its budget")

	rl := ex.limiters[ex.NodeByName("r1").id]
	require.NotNil(t, rl)
	assert.Greater(t, rl.DroppedFrom(mustAddr("10.1.10.1")), 0)
	assert.Equal(t, 0, rl.DroppedFrom(mustAddr("10.1.1.1")))
}

func TestSecurityAttackersStaggerTheirStart(t *testing.T) {
	cfg := ScenarioCfg{SimTime: 12.0, Attackers: 3}
	ex, _ := BuildSecurityScenario(cfg, nil)

	starts := map[string]float64{}
	for _, gen := range ex.gens {
		if gen.variant == GenFlood {
			starts[gen.name] = gen.startAt
		}
	}
	require.Len(t, starts, 3)
	assert.Equal(t, 10.0, starts["flood0"])
	assert.Equal(t, 10.5, starts["flood1"])
	assert.Equal(t, 11.0, starts["flood2"])
}

func TestIPSecAddsOverheadAndDelay(t *testing.T) {
	plainEx, src, dst := genPair(t)
	plain := CreateVoIPGen(plainEx, "v", src, dst)
	plain.limit = 20
	plainEx.Run(2.0)

	encEx, eSrc, eDst := genPair(t)
	encEx.SetIPSec(true)
	enc := CreateVoIPGen(encEx, "v", eSrc, eDst)
	enc.limit = 20
	encEx.Run(2.0)

	avgDelay := func(ex *Experiment) float64 {
		sum, n := 0.0, 0
		for _, evt := range ex.EvtLog() {
			if evt.Kind == PcktRecv {
				sum += evt.Delay
				n += 1
				// the decapsulated size is what the receiver sees
				assert.Equal(t, voipPcktLen, evt.Size)
			}
		}
		require.Greater(t, n, 0)
		return sum / float64(n)
	}

	plainAvg := avgDelay(plainEx)
	encAvg := avgDelay(encEx)
	// two crypto passes plus the serialization of 56 extra bytes
	assert.Greater(t, encAvg, plainAvg+2*ipsecCryptoTime-1e-9)
}

func TestSteeringAlternatesPaths(t *testing.T) {
	ex, cl := BuildSteeringScenario(ScenarioCfg{SimTime: 26.0}, nil)
	require.Len(t, ex.steerers, 1)
	ps := ex.steerers[0]

	assert.Equal(t, ps.hopA, ps.ActiveHop())
	ex.Run(0.0)

	// toggles at 5, 10, 15, 20, 25: five of them, so hop B is active
	assert.Equal(t, 5, ps.toggles)
	assert.Equal(t, ps.hopB, ps.ActiveHop())

	rpt := ex.Report(cl, DefaultVerdictThresholds())
	be := findCat(rpt, "best-effort")
	require.NotNil(t, be)
	assert.Greater(t, be.Recv, 100)

	// both the short and the long path carried probes, so the delay
	// spread straddles the extra propagation of path B
	var minD, maxD float64
	minD = 1.0
	for _, evt := range ex.EvtLog() {
		if evt.Kind != PcktRecv {
			continue
		}
		if evt.Delay < minD {
			minD = evt.Delay
		}
		if evt.Delay > maxD {
			maxD = evt.Delay
		}
	}
	assert.Greater(t, maxD-minD, 0.010)
}

func TestExperimentsAreIsolated(t *testing.T) {
	exA, _ := BuildFailoverScenario(ScenarioCfg{SimTime: 5.0}, nil)
	exB, _ := BuildFailoverScenario(ScenarioCfg{SimTime: 5.0}, nil)

	exA.Run(0.0)

	assert.NotEmpty(t, exA.EvtLog())
	assert.Empty(t, exB.EvtLog(), "an unrun experiment accumulates nothing")

	// the same topology in both instances got independent id spaces
	// starting from the same origin
	assert.Equal(t, exB.NodeByName("r1").id, exA.NodeByName("r1").id)
}
