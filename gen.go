package wansim

// gen.go holds the traffic sources.  A generator is one of a closed
// set of variants (voice, flood, echo) sharing a common emission loop
// and life cycle: it is created Idle, Setup validates its parameters,
// Start begins periodic emission, and Stop (or exhausting the packet
// limit) retires it.  A stopped generator never emits again; stopping
// one generator has no effect on any other

import (
	"fmt"

	"github.com/iti/evt/evtm"
)

// GenVariant tags the kind of traffic a generator produces
type GenVariant int

const (
	GenVoIP GenVariant = iota
	GenFlood
	GenEcho
)

func (gv GenVariant) String() string {
	switch gv {
	case GenVoIP:
		return "voip"
	case GenFlood:
		return "flood"
	case GenEcho:
		return "echo"
	}
	return "unknown"
}

// genState is the generator life cycle
type genState int

const (
	genIdle genState = iota
	genRunning
	genStopped
)

// parameters of the built-in variants.  Voice models a single G.711
// stream of 160 byte payloads at 64 kbps; flood is a 2 Mbps stream of
// 1024 byte packets; echo probes at a fixed 100 ms cadence
const (
	voipPcktLen = 160
	voipBitRate = 64000.0
	voipPort    = 5060
	voipLimit   = 1500

	floodPcktLen = 1024
	floodBitRate = 2.0e6

	echoPcktLen  = 1024
	echoInterval = 0.1
	echoPort     = 9
	echoLimit    = 1000
)

// A TransportError reports that a generator could not inject traffic.
// It retires the generator that hit it and nothing else
type TransportError struct {
	Gen    string
	Reason string
}

func (te *TransportError) Error() string {
	return fmt.Sprintf("generator %s: %s", te.Gen, te.Reason)
}

// A TrafficGen emits packets of one flow at a fixed cadence.  The
// inter-packet interval follows from the packet length and bit rate
type TrafficGen struct {
	name    string
	variant GenVariant
	ex      *Experiment
	src     *Node
	key     FlowKey
	pcktLen int
	bitRate float64 // bits per second
	limit   int     // packets, 0 for unlimited
	prio    int
	state   genState
	pending *pendingEvt
	sent    int
	startAt float64
	stopAt  float64
}

// createTrafficGen is the common constructor behind the variants
func createTrafficGen(ex *Experiment, name string, variant GenVariant, src, dst *Node) *TrafficGen {
	gen := new(TrafficGen)
	gen.name = name
	gen.variant = variant
	gen.ex = ex
	gen.src = src
	gen.state = genIdle
	gen.key = FlowKey{Proto: "udp"}
	if len(src.intrfcs) > 0 {
		gen.key.Src = src.intrfcs[0].addr
	}
	if len(dst.intrfcs) > 0 {
		gen.key.Dst = dst.intrfcs[0].addr
	}
	ex.gens = append(ex.gens, gen)
	return gen
}

// CreateVoIPGen makes a voice source from src to dst, marked for the
// expedited class
func CreateVoIPGen(ex *Experiment, name string, src, dst *Node) *TrafficGen {
	gen := createTrafficGen(ex, name, GenVoIP, src, dst)
	gen.pcktLen = voipPcktLen
	gen.bitRate = voipBitRate
	gen.limit = voipLimit
	gen.prio = prioHigh
	gen.key.DstPort = voipPort
	return gen
}

// CreateFloodGen makes a high-rate best-effort source, the traffic an
// attacker node pushes at its victim
func CreateFloodGen(ex *Experiment, name string, src, dst *Node) *TrafficGen {
	gen := createTrafficGen(ex, name, GenFlood, src, dst)
	gen.pcktLen = floodPcktLen
	gen.bitRate = floodBitRate
	gen.prio = prioBest
	return gen
}

// CreateEchoGen makes a fixed-cadence probe source whose packets a
// responder at the destination reflects back
func CreateEchoGen(ex *Experiment, name string, src, dst *Node) *TrafficGen {
	gen := createTrafficGen(ex, name, GenEcho, src, dst)
	gen.pcktLen = echoPcktLen
	gen.bitRate = 8.0 * echoPcktLen / echoInterval
	gen.limit = echoLimit
	gen.prio = prioBest
	gen.key.DstPort = echoPort
	return gen
}

// SetWindow sets the virtual times the experiment starts and stops
// the generator.  A zero stop time leaves the generator running until
// its packet limit or the end of the run
func (gen *TrafficGen) SetWindow(startAt, stopAt float64) {
	gen.startAt = startAt
	gen.stopAt = stopAt
}

// Interval is the gap between successive emissions
func (gen *TrafficGen) Interval() float64 {
	return 8.0 * float64(gen.pcktLen) / gen.bitRate
}

// Setup validates the generator's parameters.  It must be called
// before Start, on an Idle generator
func (gen *TrafficGen) Setup() error {
	if gen.state != genIdle {
		return fmt.Errorf("generator %s: setup on non-idle generator", gen.name)
	}
	if gen.pcktLen <= 0 {
		return fmt.Errorf("generator %s: packet length %d not positive", gen.name, gen.pcktLen)
	}
	if gen.bitRate <= 0.0 {
		return fmt.Errorf("generator %s: bit rate %f not positive", gen.name, gen.bitRate)
	}
	if !gen.key.Src.IsValid() || !gen.key.Dst.IsValid() {
		return fmt.Errorf("generator %s: endpoint without an address", gen.name)
	}
	return nil
}

// Start begins emission.  The first packet goes out immediately and
// successors follow at the variant's interval.  Starting a generator
// that is not Idle is a no-op
func (gen *TrafficGen) Start(evtMgr *evtm.EventManager) {
	if gen.state != genIdle {
		return
	}
	gen.state = genRunning
	gen.emit(evtMgr)
}

// Stop retires the generator.  Any scheduled emission is cancelled;
// a packet already handed to the network keeps going
func (gen *TrafficGen) Stop() {
	if gen.state == genStopped {
		return
	}
	gen.state = genStopped
	if gen.pending != nil {
		gen.pending.Cancel()
		gen.pending = nil
	}
}

// Sent reports the number of packets emitted so far
func (gen *TrafficGen) Sent() int {
	return gen.sent
}

// Running reports whether the generator is actively emitting
func (gen *TrafficGen) Running() bool {
	return gen.state == genRunning
}

// emit builds and injects one packet, then schedules the next
// emission unless the limit has been reached
func (gen *TrafficGen) emit(evtMgr *evtm.EventManager) {
	if gen.state != genRunning {
		return
	}
	if len(gen.src.intrfcs) == 0 {
		gen.ex.logger.Error("generator aborted",
			"gen", gen.name, "err", &TransportError{Gen: gen.name, Reason: "source has no interface"})
		gen.state = genStopped
		return
	}

	pckt := &Packet{key: gen.key, size: gen.pcktLen, prio: gen.prio}
	gen.ex.SourceSend(evtMgr, gen.src, pckt)
	gen.sent += 1

	if gen.limit > 0 && gen.sent >= gen.limit {
		gen.state = genStopped
		gen.pending = nil
		return
	}
	gen.pending = schedulePending(evtMgr, gen, nil, genEmitEvt, gen.Interval())
}

// genEmitEvt is the periodic emission handler
func genEmitEvt(evtMgr *evtm.EventManager, context any, data any) any {
	gen := context.(*TrafficGen)
	gen.pending = nil
	gen.emit(evtMgr)
	return nil
}

// genStartEvt and genStopEvt let an experiment defer a generator's
// life-cycle transitions to configured times
func genStartEvt(evtMgr *evtm.EventManager, context any, data any) any {
	context.(*TrafficGen).Start(evtMgr)
	return nil
}

func genStopEvt(evtMgr *evtm.EventManager, context any, data any) any {
	context.(*TrafficGen).Stop()
	return nil
}

// An EchoResponder reflects echo probes that reach a server node.
// The reply carries the probe's size back along the reversed flow
type EchoResponder struct {
	name    string
	ex      *Experiment
	node    *Node
	replied int
}

// CreateEchoResponder attaches a responder to node, listening on the
// node's receive trace point
func CreateEchoResponder(ex *Experiment, name string, node *Node) *EchoResponder {
	er := new(EchoResponder)
	er.name = name
	er.ex = ex
	er.node = node
	ex.bus.Subscribe(node.id, -1, RxTrace, er.onRecv)
	return er
}

// Replied reports how many probes the responder has reflected
func (er *EchoResponder) Replied() int {
	return er.replied
}

// onRecv reflects a received echo probe.  Other traffic arriving at
// the node is ignored
func (er *EchoResponder) onRecv(t float64, pckt *Packet) {
	if pckt.key.DstPort != echoPort {
		return
	}
	er.replied += 1
	reply := &Packet{
		key: FlowKey{
			Src:     pckt.key.Dst,
			Dst:     pckt.key.Src,
			SrcPort: pckt.key.DstPort,
			DstPort: pckt.key.SrcPort,
			Proto:   pckt.key.Proto,
		},
		size: pckt.size,
		prio: pckt.prio,
	}
	er.ex.SourceSend(er.ex.evtMgr, er.node, reply)
}
