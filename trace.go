package wansim

// trace.go carries the observation machinery: a typed event bus for
// trace points, the TraceManager that accumulates a serializable
// record of the run, and the eavesdropper that taps a link's
// promiscuous receive point.  Subscription is by structured key
// (node id, device id, event kind); there is no pattern matching.

import (
	"encoding/json"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceKind enumerates the trace points a component can subscribe to
type TraceKind int

const (
	TxTrace TraceKind = iota
	RxTrace
	DropTrace
	PromiscRxTrace
)

var tkToStr map[TraceKind]string = map[TraceKind]string{
	TxTrace: "tx", RxTrace: "rx", DropTrace: "drop", PromiscRxTrace: "promisc-rx"}

// traceKey is the structured subscription key: which device on which
// node, and which event kind
type traceKey struct {
	nodeID int
	devID  int
	kind   TraceKind
}

// A TraceCallback receives the virtual time of the event and the
// packet involved
type TraceCallback func(t float64, pckt *Packet)

// The EventBus routes trace-point firings to subscribed callbacks.
// One bus exists per experiment; its lifetime is the run's
type EventBus struct {
	subs map[traceKey][]TraceCallback
}

// CreateEventBus is a constructor
func CreateEventBus() *EventBus {
	bus := new(EventBus)
	bus.subs = make(map[traceKey][]TraceCallback)
	return bus
}

// Subscribe registers cb against the exact (node, device, kind) key.
// A devID of -1 subscribes to the kind on every device of the node
func (bus *EventBus) Subscribe(nodeID, devID int, kind TraceKind, cb TraceCallback) {
	key := traceKey{nodeID: nodeID, devID: devID, kind: kind}
	bus.subs[key] = append(bus.subs[key], cb)
}

// publish fires every callback registered for the key, in
// subscription order, then the node-wide subscribers for the kind
func (bus *EventBus) publish(nodeID, devID int, kind TraceKind, t float64, pckt *Packet) {
	key := traceKey{nodeID: nodeID, devID: devID, kind: kind}
	for _, cb := range bus.subs[key] {
		cb(t, pckt)
	}
	if devID != -1 {
		wild := traceKey{nodeID: nodeID, devID: -1, kind: kind}
		for _, cb := range bus.subs[wild] {
			cb(t, pckt)
		}
	}
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceInst is one formatted trace record
type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// TraceManager gathers information about an execution of the model.
// By testing the InUse flag we can inhibit gathering when a trace is
// not wanted while leaving the calls in place everywhere
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, keyed by packet id (or
	// link id for topology transitions)
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is gathering
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddName adds an element to the id -> (name,type) dictionary
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// pcktTraceRecord is the serialized form of one packet trace event
type pcktTraceRecord struct {
	Time   float64
	Ticks  int64
	PcktID int
	ObjID  int
	Op     string
	Size   int
}

// AddPcktTrace records the visitation of a packet to some point in
// the simulation, labeled by an op string such as "tx", "rx", or a
// drop reason
func (tm *TraceManager) AddPcktTrace(vrt vrtime.Time, pcktID, objID, size int, op string) {
	if !tm.InUse {
		return
	}
	rec := pcktTraceRecord{
		Time: vrt.Seconds(), Ticks: vrt.Ticks(),
		PcktID: pcktID, ObjID: objID, Op: op, Size: size,
	}
	bytes, merr := yaml.Marshal(rec)
	if merr != nil {
		panic(merr)
	}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	tm.Traces[pcktID] = append(tm.Traces[pcktID],
		TraceInst{TraceTime: traceTime, TraceType: "packet", TraceStr: string(bytes)})
}

// AddLinkTrace records a link state transition ("up"/"down") at its
// scheduled virtual time
func (tm *TraceManager) AddLinkTrace(vrt vrtime.Time, linkID int, op string) {
	if !tm.InUse {
		return
	}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	tm.Traces[linkID] = append(tm.Traces[linkID],
		TraceInst{TraceTime: traceTime, TraceType: "link", TraceStr: op})
}

// WriteToFile stores the trace to the named file.  Serialization to
// json or yaml is selected by the file name's extension
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// An Eavesdropper models passive interception on a tapped link.  It
// owns its counters; they are created with it and discarded with the
// run, never shared across experiments
type Eavesdropper struct {
	name        string
	link        *Link
	intercepted int
	bytesSeen   int64
}

// CreateEavesdropper taps the named link: the tap marks the link so
// the forwarding path publishes PromiscRx at both of its interfaces,
// and the eavesdropper subscribes to exactly those two trace points
func CreateEavesdropper(ex *Experiment, name string, lnk *Link) *Eavesdropper {
	ed := new(Eavesdropper)
	ed.name = name
	ed.link = lnk
	lnk.tapped = true

	tap := func(t float64, pckt *Packet) {
		ed.intercepted += 1
		ed.bytesSeen += int64(pckt.size)
	}
	bus := ex.bus
	bus.Subscribe(lnk.endptA.device.id, lnk.endptA.number, PromiscRxTrace, tap)
	bus.Subscribe(lnk.endptB.device.id, lnk.endptB.number, PromiscRxTrace, tap)
	return ed
}

// Intercepted returns the number of packets seen on the tapped link
func (ed *Eavesdropper) Intercepted() int {
	return ed.intercepted
}

// BytesSeen returns the byte volume seen on the tapped link
func (ed *Eavesdropper) BytesSeen() int64 {
	return ed.bytesSeen
}
