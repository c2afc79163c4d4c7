package wansim

// scenarios.go builds the four stock experiments programmatically:
// a failover study over a primary/backup diamond, a priority
// scheduling study over a congested bottleneck, a security study with
// flooding sources, an admission limiter and an eavesdropped link,
// and a policy steering study over parallel paths.  Each builder
// returns the assembled experiment and the classifier matched to its
// traffic mix

import (
	"fmt"
	"log/slog"
	"net/netip"
)

// ScenarioCfg carries the knobs the stock scenarios expose.  Zero
// values select the defaults noted per field
type ScenarioCfg struct {
	SimTime     float64 // 60 s
	FailAt      float64 // 10 s
	RestoreAt   float64 // FailAt + 10 s
	Dynamic     bool    // reconverge tables instead of static failover entries
	QoS         bool    // strict-priority scheduling at the bottleneck
	QoSCapacity int     // per-class queue capacity, 50 packets
	RateLimit   float64 // admission limit in bytes per second, 375000
	WindowSize  float64 // admission window, 1 s
	Attackers   int     // flooding sources, 3
	Eavesdrop   bool    // tap the server link
	IPSec       bool    // encrypted tunnel model
	Trace       bool    // full per-packet trace collection
}

// withDefaults fills in the zero-valued knobs
func (cfg ScenarioCfg) withDefaults() ScenarioCfg {
	if cfg.SimTime == 0.0 {
		cfg.SimTime = 60.0
	}
	if cfg.FailAt == 0.0 {
		cfg.FailAt = 10.0
	}
	if cfg.RestoreAt == 0.0 {
		cfg.RestoreAt = cfg.FailAt + 10.0
	}
	if cfg.QoSCapacity == 0 {
		cfg.QoSCapacity = 50
	}
	if cfg.RateLimit == 0.0 {
		cfg.RateLimit = 375000.0
	}
	if cfg.WindowSize == 0.0 {
		cfg.WindowSize = 1.0
	}
	if cfg.Attackers == 0 {
		cfg.Attackers = 3
	}
	return cfg
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func hostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}

// BuildFailoverScenario assembles the primary/backup diamond: a
// client reaches a server through router r1, which prefers a direct
// primary link and falls back to a path through r2 when the primary
// fails.  The static variant pre-installs both routes with metrics 1
// and 100; the dynamic variant recomputes tables after each link
// state change
func BuildFailoverScenario(cfg ScenarioCfg, logger *slog.Logger) (*Experiment, *Classifier) {
	cfg = cfg.withDefaults()
	ex := CreateExperiment("failover", logger)
	ex.simTime = cfg.SimTime
	ex.traceMgr.InUse = cfg.Trace

	client := ex.AddNode("client", clientRole)
	r1 := ex.AddNode("r1", routerRole)
	r2 := ex.AddNode("r2", routerRole)
	server := ex.AddNode("server", serverRole)

	cEth := ex.AddIntrfc(client, "eth0", mustAddr("10.1.1.1"))
	r1Eth0 := ex.AddIntrfc(r1, "eth0", mustAddr("10.1.1.2"))
	r1Eth1 := ex.AddIntrfc(r1, "eth1", mustAddr("10.1.2.1"))
	r1Eth2 := ex.AddIntrfc(r1, "eth2", mustAddr("10.1.12.1"))
	r2Eth0 := ex.AddIntrfc(r2, "eth0", mustAddr("10.1.12.2"))
	r2Eth1 := ex.AddIntrfc(r2, "eth1", mustAddr("10.1.4.1"))
	srvEth0 := ex.AddIntrfc(server, "eth0", mustAddr("10.1.2.2"))
	srvEth1 := ex.AddIntrfc(server, "eth1", mustAddr("10.1.4.2"))

	access := ex.AddLink("access", cEth, r1Eth0, 10.0, 0.002, 1, cfg.QoSCapacity)
	primary := ex.AddLink("primary", r1Eth1, srvEth0, 10.0, 0.005, 1, cfg.QoSCapacity)
	transit := ex.AddLink("transit", r1Eth2, r2Eth0, 10.0, 0.005, 1, cfg.QoSCapacity)
	backup := ex.AddLink("backup", r2Eth1, srvEth1, 10.0, 0.005, 1, cfg.QoSCapacity)

	createRoutingTable(r1)
	createRoutingTable(r2)
	srvDest := hostPrefix(srvEth0.addr)
	if cfg.Dynamic {
		ex.SetDynamicRouting(0.05)
	} else {
		r1.rtTbl.AddRoute(srvDest, srvEth0.addr, primary, 1, "primary")
		r1.rtTbl.AddRoute(srvDest, r2Eth0.addr, transit, 100, "backup")
		r2.rtTbl.AddRoute(srvDest, srvEth1.addr, backup, 1, "")
		r1.rtTbl.AddRoute(hostPrefix(cEth.addr), cEth.addr, access, 1, "")
	}

	ex.AddFailover(primary, cfg.FailAt, cfg.RestoreAt)

	voice := CreateVoIPGen(ex, "voice", client, server)
	voice.SetWindow(1.0, 0.0)

	return ex, CreateDefaultClassifier(nil)
}

// BuildQoSScenario assembles the congestion study: a voice source and
// a bulk flood share a 2 Mbps bottleneck between two routers.  With
// QoS on, the bottleneck runs two strict-priority classes so voice
// preempts the flood; with it off both share one FIFO
func BuildQoSScenario(cfg ScenarioCfg, logger *slog.Logger) (*Experiment, *Classifier) {
	cfg = cfg.withDefaults()
	ex := CreateExperiment("qos", logger)
	ex.simTime = cfg.SimTime
	ex.traceMgr.InUse = cfg.Trace

	voiceSrc := ex.AddNode("voicesrc", clientRole)
	bulkSrc := ex.AddNode("bulksrc", clientRole)
	r1 := ex.AddNode("r1", routerRole)
	r2 := ex.AddNode("r2", routerRole)
	server := ex.AddNode("server", serverRole)

	vEth := ex.AddIntrfc(voiceSrc, "eth0", mustAddr("10.1.1.1"))
	bEth := ex.AddIntrfc(bulkSrc, "eth0", mustAddr("10.1.2.1"))
	r1Eth0 := ex.AddIntrfc(r1, "eth0", mustAddr("10.1.1.2"))
	r1Eth1 := ex.AddIntrfc(r1, "eth1", mustAddr("10.1.2.2"))
	r1Eth2 := ex.AddIntrfc(r1, "eth2", mustAddr("10.1.5.1"))
	r2Eth0 := ex.AddIntrfc(r2, "eth0", mustAddr("10.1.5.2"))
	r2Eth1 := ex.AddIntrfc(r2, "eth1", mustAddr("10.1.6.1"))
	srvEth := ex.AddIntrfc(server, "eth0", mustAddr("10.1.6.2"))

	ex.AddLink("voice-access", vEth, r1Eth0, 10.0, 0.001, 1, cfg.QoSCapacity)
	ex.AddLink("bulk-access", bEth, r1Eth1, 10.0, 0.001, 1, cfg.QoSCapacity)
	qosClasses := 1
	if cfg.QoS {
		qosClasses = 2
	}
	bottleneck := ex.AddLink("bottleneck", r1Eth2, r2Eth0, 2.0, 0.010, qosClasses, cfg.QoSCapacity)
	delivery := ex.AddLink("delivery", r2Eth1, srvEth, 10.0, 0.001, 1, cfg.QoSCapacity)

	createRoutingTable(r1)
	createRoutingTable(r2)
	srvDest := hostPrefix(srvEth.addr)
	r1.rtTbl.AddRoute(srvDest, r2Eth0.addr, bottleneck, 1, "")
	r2.rtTbl.AddRoute(srvDest, srvEth.addr, delivery, 1, "")

	voice := CreateVoIPGen(ex, "voice", voiceSrc, server)
	voice.SetWindow(1.0, 0.0)
	bulk := CreateFloodGen(ex, "bulk", bulkSrc, server)
	bulk.SetWindow(0.5, 0.0)

	return ex, CreateDefaultClassifier(nil)
}

// BuildSecurityScenario assembles the flooding study: legitimate
// voice traffic shares router r1 with a set of flooding sources on
// their own subnets.  The admission limiter at r1 caps each source's
// transit bytes per window.  The server link can carry a tap, and the
// tunnel model can be turned on to size the overhead of encrypting
// past the tap
func BuildSecurityScenario(cfg ScenarioCfg, logger *slog.Logger) (*Experiment, *Classifier) {
	cfg = cfg.withDefaults()
	ex := CreateExperiment("security", logger)
	ex.simTime = cfg.SimTime
	ex.traceMgr.InUse = cfg.Trace
	ex.SetIPSec(cfg.IPSec)

	client := ex.AddNode("client", clientRole)
	r1 := ex.AddNode("r1", routerRole)
	server := ex.AddNode("server", serverRole)

	cEth := ex.AddIntrfc(client, "eth0", mustAddr("10.1.1.1"))
	r1Eth0 := ex.AddIntrfc(r1, "eth0", mustAddr("10.1.1.2"))
	r1Srv := ex.AddIntrfc(r1, "srv", mustAddr("10.1.2.1"))
	srvEth := ex.AddIntrfc(server, "eth0", mustAddr("10.1.2.2"))

	ex.AddLink("access", cEth, r1Eth0, 10.0, 0.002, 1, cfg.QoSCapacity)
	srvLink := ex.AddLink("server-link", r1Srv, srvEth, 10.0, 0.002, 1, cfg.QoSCapacity)

	createRoutingTable(r1)
	r1.rtTbl.AddRoute(hostPrefix(srvEth.addr), srvEth.addr, srvLink, 1, "")

	ex.AddLimiter(r1, cfg.RateLimit, cfg.WindowSize)

	attackPrefixes := make([]netip.Prefix, 0, cfg.Attackers)
	for i := 0; i < cfg.Attackers; i++ {
		subnet := 10 + i
		attacker := ex.AddNode(fmt.Sprintf("attacker%d", i), attackerRole)
		aEth := ex.AddIntrfc(attacker, "eth0", mustAddr(fmt.Sprintf("10.1.%d.1", subnet)))
		rEth := ex.AddIntrfc(r1, fmt.Sprintf("atk%d", i), mustAddr(fmt.Sprintf("10.1.%d.2", subnet)))
		ex.AddLink(fmt.Sprintf("attack-link%d", i), aEth, rEth, 10.0, 0.002, 1, cfg.QoSCapacity)
		attackPrefixes = append(attackPrefixes,
			netip.MustParsePrefix(fmt.Sprintf("10.1.%d.0/24", subnet)))

		flood := CreateFloodGen(ex, fmt.Sprintf("flood%d", i), attacker, server)
		flood.SetWindow(10.0+float64(i)*0.5, 0.0)
	}

	voice := CreateVoIPGen(ex, "voice", client, server)
	voice.SetWindow(1.0, 0.0)

	if cfg.Eavesdrop {
		ex.taps = append(ex.taps, CreateEavesdropper(ex, "tap", srvLink))
	}

	return ex, CreateDefaultClassifier(attackPrefixes)
}

// BuildSteeringScenario assembles the policy steering study: router
// r1 reaches the server over two parallel relays and alternates the
// installed next hop every period.  An echo source probes the path
// and a responder at the server reflects the probes
func BuildSteeringScenario(cfg ScenarioCfg, logger *slog.Logger) (*Experiment, *Classifier) {
	cfg = cfg.withDefaults()
	ex := CreateExperiment("steering", logger)
	ex.simTime = cfg.SimTime
	ex.traceMgr.InUse = cfg.Trace

	client := ex.AddNode("client", clientRole)
	r1 := ex.AddNode("r1", routerRole)
	rA := ex.AddNode("ra", routerRole)
	rB := ex.AddNode("rb", routerRole)
	server := ex.AddNode("server", serverRole)

	cEth := ex.AddIntrfc(client, "eth0", mustAddr("10.1.1.1"))
	r1Eth0 := ex.AddIntrfc(r1, "eth0", mustAddr("10.1.1.2"))
	r1EthA := ex.AddIntrfc(r1, "etha", mustAddr("10.1.21.1"))
	r1EthB := ex.AddIntrfc(r1, "ethb", mustAddr("10.1.22.1"))
	rAEth0 := ex.AddIntrfc(rA, "eth0", mustAddr("10.1.21.2"))
	rAEth1 := ex.AddIntrfc(rA, "eth1", mustAddr("10.1.31.1"))
	rBEth0 := ex.AddIntrfc(rB, "eth0", mustAddr("10.1.22.2"))
	rBEth1 := ex.AddIntrfc(rB, "eth1", mustAddr("10.1.32.1"))
	srvEthA := ex.AddIntrfc(server, "eth0", mustAddr("10.1.31.2"))
	srvEthB := ex.AddIntrfc(server, "eth1", mustAddr("10.1.32.2"))

	access := ex.AddLink("access", cEth, r1Eth0, 10.0, 0.002, 1, cfg.QoSCapacity)
	pathA := ex.AddLink("path-a", r1EthA, rAEth0, 10.0, 0.005, 1, cfg.QoSCapacity)
	pathB := ex.AddLink("path-b", r1EthB, rBEth0, 10.0, 0.020, 1, cfg.QoSCapacity)
	tailA := ex.AddLink("tail-a", rAEth1, srvEthA, 10.0, 0.002, 1, cfg.QoSCapacity)
	tailB := ex.AddLink("tail-b", rBEth1, srvEthB, 10.0, 0.002, 1, cfg.QoSCapacity)

	createRoutingTable(r1)
	createRoutingTable(rA)
	createRoutingTable(rB)
	srvDest := hostPrefix(srvEthA.addr)
	clientDest := hostPrefix(cEth.addr)
	r1.rtTbl.AddRoute(clientDest, cEth.addr, access, 1, "")
	rA.rtTbl.AddRoute(srvDest, srvEthA.addr, tailA, 1, "")
	rA.rtTbl.AddRoute(clientDest, r1EthA.addr, pathA, 1, "")
	rB.rtTbl.AddRoute(srvDest, srvEthB.addr, tailB, 1, "")
	rB.rtTbl.AddRoute(clientDest, r1EthB.addr, pathB, 1, "")

	ex.AddSteerer(r1, srvDest, rAEth0.addr, pathA, rBEth0.addr, pathB, 5.0)

	probe := CreateEchoGen(ex, "probe", client, server)
	probe.SetWindow(1.0, 0.0)
	ex.responders = append(ex.responders, CreateEchoResponder(ex, "probe-responder", server))

	return ex, CreateDefaultClassifier(nil)
}
