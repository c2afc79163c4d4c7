// Package wansim implements a discrete-event simulator for wide-area
// network resilience and quality-of-service studies.  An Experiment
// binds a topology of nodes and links to traffic generators,
// scheduled link failures, admission limiters, policy steering, and
// taps, runs the whole in virtual time, and reduces the packet event
// log to per-category quality figures
package wansim

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path"
	"sort"

	"github.com/iti/evt/evtm"
	"gopkg.in/yaml.v3"
)

// An Experiment is one self-contained simulation instance.  All
// identifiers, counters, and logs are scoped to it, so independent
// experiments never observe each other
type Experiment struct {
	name   string
	numIDs int
	logger *slog.Logger

	nodeByID     map[int]*Node
	nodeByName   map[string]*Node
	intrfcByName map[string]*Intrfc
	linkByName   map[string]*Link

	limiters map[int]*RateLimiter

	gens       []*TrafficGen
	steerers   []*PolicySteerer
	failovers  []*FailoverTrigger
	responders []*EchoResponder
	taps       []*Eavesdropper

	bus      *EventBus
	traceMgr *TraceManager
	evtLog   []PcktEvent

	dynamicRouting   bool
	convergenceDelay float64
	ipsec            bool
	simTime          float64

	evtMgr *evtm.EventManager
}

// CreateExperiment makes an empty experiment for programmatic
// construction.  A nil logger discards everything
func CreateExperiment(name string, logger *slog.Logger) *Experiment {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ex := new(Experiment)
	ex.name = name
	ex.logger = logger
	ex.nodeByID = make(map[int]*Node)
	ex.nodeByName = make(map[string]*Node)
	ex.intrfcByName = make(map[string]*Intrfc)
	ex.linkByName = make(map[string]*Link)
	ex.limiters = make(map[int]*RateLimiter)
	ex.bus = CreateEventBus()
	ex.traceMgr = CreateTraceManager(name, false)
	ex.convergenceDelay = 0.05
	return ex
}

// nxtID hands out identifiers unique within this experiment
func (ex *Experiment) nxtID() int {
	ex.numIDs += 1
	return ex.numIDs
}

// NodeByName returns the named node, nil if absent
func (ex *Experiment) NodeByName(name string) *Node {
	return ex.nodeByName[name]
}

// LinkByName returns the named link, nil if absent
func (ex *Experiment) LinkByName(name string) *Link {
	return ex.linkByName[name]
}

// TraceManager exposes the experiment's trace collector
func (ex *Experiment) TraceManager() *TraceManager {
	return ex.traceMgr
}

// Bus exposes the experiment's trace point event bus
func (ex *Experiment) Bus() *EventBus {
	return ex.bus
}

// AddNode creates and registers a device
func (ex *Experiment) AddNode(name string, role devRole) *Node {
	node := createNode(ex, name, role)
	ex.nodeByID[node.id] = node
	ex.nodeByName[name] = node
	ex.traceMgr.AddName(node.id, name, "node")
	return node
}

// AddIntrfc creates and registers an interface on a node.  Interface
// names are qualified by the node name
func (ex *Experiment) AddIntrfc(node *Node, name string, addr netip.Addr) *Intrfc {
	intrfc := createIntrfc(ex, node, name, addr)
	ex.intrfcByName[node.name+"."+name] = intrfc
	return intrfc
}

// AddLink creates and registers a link between two interfaces
func (ex *Experiment) AddLink(name string, a, b *Intrfc,
	capacity, latency float64, qosClasses, qosCapacity int) *Link {

	lnk := createLink(ex, name, a, b, capacity, latency, qosClasses, qosCapacity)
	ex.linkByName[name] = lnk
	ex.traceMgr.AddName(lnk.number, name, "link")
	return lnk
}

// AddLimiter attaches an admission limiter to a node.  Transit
// packets arriving at the node pass through it; locally generated
// traffic does not
func (ex *Experiment) AddLimiter(node *Node, rateLimit, windowSize float64) *RateLimiter {
	rl := CreateRateLimiter(rateLimit, windowSize)
	ex.limiters[node.id] = rl
	return rl
}

// AddFailover schedules a link outage and, when restoreAt is past
// failAt, its repair
func (ex *Experiment) AddFailover(lnk *Link, failAt, restoreAt float64) *FailoverTrigger {
	ft := &FailoverTrigger{link: lnk, failAt: failAt, restoreAt: restoreAt}
	ex.failovers = append(ex.failovers, ft)
	return ft
}

// AddSteerer installs periodic policy steering of dest at a node,
// alternating between the two given next hops
func (ex *Experiment) AddSteerer(node *Node, dest netip.Prefix,
	hopA netip.Addr, linkA *Link, hopB netip.Addr, linkB *Link, period float64) *PolicySteerer {

	ps := createPolicySteerer(node.rtTbl, dest, hopA, linkA, hopB, linkB, period)
	ex.steerers = append(ex.steerers, ps)
	return ps
}

// SetDynamicRouting turns on table reconvergence after link state
// changes, with the given convergence delay
func (ex *Experiment) SetDynamicRouting(convergenceDelay float64) {
	ex.dynamicRouting = true
	if convergenceDelay > 0.0 {
		ex.convergenceDelay = convergenceDelay
	}
}

// SetIPSec turns on the encrypted tunnel model: every packet carries
// the encapsulation overhead and pays the processing delay at both
// ends
func (ex *Experiment) SetIPSec(on bool) {
	ex.ipsec = on
}

// SetTracing turns full per-packet trace collection on or off
func (ex *Experiment) SetTracing(on bool) {
	ex.traceMgr.InUse = on
}

// recordPcktEvent appends one entry to the packet event log
func (ex *Experiment) recordPcktEvent(kind PcktEventKind, t float64, pckt *Packet, delay float64) {
	ex.evtLog = append(ex.evtLog,
		PcktEvent{Key: pckt.key, Kind: kind, Time: t, Size: pckt.size, Delay: delay})
}

// EvtLog returns the accumulated packet event log
func (ex *Experiment) EvtLog() []PcktEvent {
	return ex.evtLog
}

// BuildExperiment assembles an experiment from its descriptions.
// Structural problems in the descriptions are gathered and reported
// together rather than one at a time
func BuildExperiment(topo *TopoDesc, exp *ExpDesc, logger *slog.Logger) (*Experiment, error) {
	errs := append(topo.validate(), exp.validate()...)
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	ex := CreateExperiment(exp.Name, logger)
	ex.simTime = exp.SimTime
	ex.ipsec = exp.IPSec
	ex.dynamicRouting = exp.DynamicRouting
	if exp.ConvergenceDelay > 0.0 {
		ex.convergenceDelay = exp.ConvergenceDelay
	}
	ex.traceMgr.InUse = exp.Trace

	for _, nd := range topo.Nodes {
		role, _ := devRoleFromStr(nd.Role)
		node := ex.AddNode(nd.Name, role)
		for _, id := range nd.Intrfcs {
			addr, _ := netip.ParseAddr(id.Addr)
			ex.AddIntrfc(node, id.Name, addr)
		}
		if role == routerRole {
			createRoutingTable(node)
		}
	}

	for _, ld := range topo.Links {
		a := ex.intrfcByName[ld.EndptA]
		b := ex.intrfcByName[ld.EndptB]
		lnk := ex.AddLink(ld.Name, a, b, ld.Capacity, ld.Latency, ld.QoSClasses, ld.QoSCapacity)
		lnk.lossProb = ld.LossProb
	}

	buildErrs := []error{}
	for _, rd := range topo.Routes {
		node := ex.nodeByName[rd.Node]
		if node.rtTbl == nil {
			buildErrs = append(buildErrs, fmt.Errorf("route at %s: node has no routing table", rd.Node))
			continue
		}
		dest, _ := netip.ParsePrefix(rd.Dest)
		nextHop, _ := netip.ParseAddr(rd.NextHop)
		node.rtTbl.AddRoute(dest, nextHop, ex.linkByName[rd.Link], rd.Metric, rd.Tag)
	}

	for _, gd := range exp.Gens {
		src := ex.nodeByName[gd.Src]
		dst := ex.nodeByName[gd.Dst]
		if src == nil || dst == nil {
			buildErrs = append(buildErrs, fmt.Errorf("generator %s: unknown endpoint", gd.Name))
			continue
		}
		var gen *TrafficGen
		switch gd.Variant {
		case "voip":
			gen = CreateVoIPGen(ex, gd.Name, src, dst)
		case "flood":
			gen = CreateFloodGen(ex, gd.Name, src, dst)
		case "echo":
			gen = CreateEchoGen(ex, gd.Name, src, dst)
			ex.responders = append(ex.responders, CreateEchoResponder(ex, gd.Name+"-responder", dst))
		default:
			buildErrs = append(buildErrs, fmt.Errorf("generator %s: unknown variant %s", gd.Name, gd.Variant))
			continue
		}
		gen.SetWindow(gd.StartAt, gd.StopAt)
		if err := gen.Setup(); err != nil {
			buildErrs = append(buildErrs, err)
		}
	}

	for _, fd := range exp.Failures {
		lnk := ex.linkByName[fd.Link]
		if lnk == nil {
			buildErrs = append(buildErrs, fmt.Errorf("failure on unknown link %s", fd.Link))
			continue
		}
		ex.AddFailover(lnk, fd.FailAt, fd.RestoreAt)
	}

	for _, lmd := range exp.Limiters {
		node := ex.nodeByName[lmd.Node]
		if node == nil {
			buildErrs = append(buildErrs, fmt.Errorf("limiter at unknown node %s", lmd.Node))
			continue
		}
		ex.AddLimiter(node, lmd.RateLimit, lmd.WindowSize)
	}

	for _, sd := range exp.Steering {
		node := ex.nodeByName[sd.Node]
		if node == nil || node.rtTbl == nil {
			buildErrs = append(buildErrs, fmt.Errorf("steering at %s: not a forwarding node", sd.Node))
			continue
		}
		dest, derr := netip.ParsePrefix(sd.Dest)
		hopA, aerr := netip.ParseAddr(sd.HopA)
		hopB, berr := netip.ParseAddr(sd.HopB)
		if err := ReportErrs([]error{derr, aerr, berr}); err != nil {
			buildErrs = append(buildErrs, fmt.Errorf("steering at %s: %w", sd.Node, err))
			continue
		}
		linkA := ex.linkByName[sd.LinkA]
		linkB := ex.linkByName[sd.LinkB]
		if linkA == nil || linkB == nil {
			buildErrs = append(buildErrs, fmt.Errorf("steering at %s: unknown link", sd.Node))
			continue
		}
		ex.AddSteerer(node, dest, hopA, linkA, hopB, linkB, sd.Period)
	}

	for _, tpd := range exp.Taps {
		lnk := ex.linkByName[tpd.Link]
		if lnk == nil {
			buildErrs = append(buildErrs, fmt.Errorf("tap %s on unknown link %s", tpd.Name, tpd.Link))
			continue
		}
		ex.taps = append(ex.taps, CreateEavesdropper(ex, tpd.Name, lnk))
	}

	if err := ReportErrs(buildErrs); err != nil {
		return nil, err
	}
	return ex, nil
}

// Run executes the experiment to the given virtual end time.  When
// the argument is zero the configured simulation time is used
func (ex *Experiment) Run(simTime float64) {
	if simTime > 0.0 {
		ex.simTime = simTime
	}
	evtMgr := evtm.New()
	ex.evtMgr = evtMgr

	if ex.dynamicRouting {
		ex.Reconverge()
	}

	for _, ft := range ex.failovers {
		ft.schedule(ex, evtMgr)
	}
	for _, ps := range ex.steerers {
		ps.Start(evtMgr)
	}
	for _, gen := range ex.gens {
		evtMgr.Schedule(gen, nil, genStartEvt, secondsToTime(gen.startAt))
		if gen.stopAt > gen.startAt {
			evtMgr.Schedule(gen, nil, genStopEvt, secondsToTime(gen.stopAt))
		}
	}

	ex.logger.Info("experiment starting", "name", ex.name, "simtime", ex.simTime)
	evtMgr.Run(ex.simTime)
	ex.logger.Info("experiment complete", "name", ex.name, "events", len(ex.evtLog))
}

// A Report is the reduced outcome of a run: the per-category quality
// figures, the experiment-wide loss counters, and a dump of the
// routing tables as they stood at the end of the run
type Report struct {
	Name        string           `json:"name" yaml:"name"`
	SimTime     float64          `json:"simtime" yaml:"simtime"`
	Categories  []*CategoryStats `json:"categories" yaml:"categories"`
	AdmitDrops  int              `json:"admitdrops" yaml:"admitdrops"`
	LookupFails int              `json:"lookupfails" yaml:"lookupfails"`
	QueueDrops  int              `json:"queuedrops" yaml:"queuedrops"`
	Intercepted int              `json:"intercepted" yaml:"intercepted"`
	Routes      []RouteDesc      `json:"routes" yaml:"routes"`
}

// Report reduces the event log through the classifier and thresholds
// into the run's report
func (ex *Experiment) Report(cl *Classifier, vt VerdictThresholds) *Report {
	agg := CreateAggregator(cl, vt)
	for idx := range ex.evtLog {
		agg.Observe(&ex.evtLog[idx])
	}

	rpt := new(Report)
	rpt.Name = ex.name
	rpt.SimTime = ex.simTime
	rpt.Categories = agg.Categories()
	for _, node := range ex.nodeByID {
		rpt.AdmitDrops += node.state.admitDrops
		rpt.LookupFails += node.state.lookupFails
	}
	for _, lnk := range ex.linkByName {
		rpt.QueueDrops += lnk.xmtrA.queue.Drops() + lnk.xmtrB.queue.Drops()
	}
	for _, tap := range ex.taps {
		rpt.Intercepted += tap.Intercepted()
	}

	names := make([]string, 0, len(ex.nodeByName))
	for name := range ex.nodeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node := ex.nodeByName[name]
		if node.rtTbl != nil {
			rpt.Routes = append(rpt.Routes, node.rtTbl.Snapshot()...)
		}
	}
	return rpt
}

// WriteToFile stores the Report to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rpt *Report) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*rpt)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*rpt, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()

	return werr
}
