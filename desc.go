package wansim

// desc.go holds the serializable descriptions an experiment is built
// from.  A topology description lists the nodes, interfaces, links,
// and static routes; an experiment description lists the traffic
// sources, scheduled failures, admission limiters, and policy
// steering to run over that topology.  Both serialize to yaml or
// json, chosen by file extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// vocabularies the validators check names against
var (
	knownRoles    = []string{"client", "router", "server", "attacker"}
	knownVariants = []string{"voip", "flood", "echo"}
)

// IntrfcDesc describes a network interface and its address
type IntrfcDesc struct {
	Name string `json:"name" yaml:"name"`
	Addr string `json:"addr" yaml:"addr"`
}

// NodeDesc describes a device in the topology
type NodeDesc struct {
	Name    string       `json:"name" yaml:"name"`
	Role    string       `json:"role" yaml:"role"`
	Intrfcs []IntrfcDesc `json:"interfaces" yaml:"interfaces"`
}

// LinkDesc describes a point-to-point link between two interfaces,
// named as node.interface.  Capacity is in Mbps, latency in seconds
type LinkDesc struct {
	Name        string  `json:"name" yaml:"name"`
	EndptA      string  `json:"endpta" yaml:"endpta"`
	EndptB      string  `json:"endptb" yaml:"endptb"`
	Capacity    float64 `json:"capacity" yaml:"capacity"`
	Latency     float64 `json:"latency" yaml:"latency"`
	LossProb    float64 `json:"lossprob" yaml:"lossprob"`
	QoSClasses  int     `json:"qosclasses" yaml:"qosclasses"`
	QoSCapacity int     `json:"qoscapacity" yaml:"qoscapacity"`
}

// RouteDesc describes one static route installed at a node
type RouteDesc struct {
	Node    string `json:"node" yaml:"node"`
	Dest    string `json:"dest" yaml:"dest"`
	NextHop string `json:"nexthop" yaml:"nexthop"`
	Link    string `json:"link" yaml:"link"`
	Metric  int    `json:"metric" yaml:"metric"`
	Tag     string `json:"tag" yaml:"tag"`
}

// TopoDesc gathers the full topology description
type TopoDesc struct {
	Name   string      `json:"name" yaml:"name"`
	Nodes  []NodeDesc  `json:"nodes" yaml:"nodes"`
	Links  []LinkDesc  `json:"links" yaml:"links"`
	Routes []RouteDesc `json:"routes" yaml:"routes"`
}

// GenDesc describes one traffic source and its active window
type GenDesc struct {
	Name    string  `json:"name" yaml:"name"`
	Variant string  `json:"variant" yaml:"variant"`
	Src     string  `json:"src" yaml:"src"`
	Dst     string  `json:"dst" yaml:"dst"`
	StartAt float64 `json:"startat" yaml:"startat"`
	StopAt  float64 `json:"stopat" yaml:"stopat"`
}

// FailureDesc schedules a link outage and its repair
type FailureDesc struct {
	Link      string  `json:"link" yaml:"link"`
	FailAt    float64 `json:"failat" yaml:"failat"`
	RestoreAt float64 `json:"restoreat" yaml:"restoreat"`
}

// LimiterDesc attaches an admission limiter to a node.  RateLimit is
// in bytes per second, WindowSize in seconds
type LimiterDesc struct {
	Node       string  `json:"node" yaml:"node"`
	RateLimit  float64 `json:"ratelimit" yaml:"ratelimit"`
	WindowSize float64 `json:"windowsize" yaml:"windowsize"`
}

// SteerDesc describes periodic policy steering of one destination
// between two next hops at a node
type SteerDesc struct {
	Node   string  `json:"node" yaml:"node"`
	Dest   string  `json:"dest" yaml:"dest"`
	HopA   string  `json:"hopa" yaml:"hopa"`
	LinkA  string  `json:"linka" yaml:"linka"`
	HopB   string  `json:"hopb" yaml:"hopb"`
	LinkB  string  `json:"linkb" yaml:"linkb"`
	Period float64 `json:"period" yaml:"period"`
}

// TapDesc places an eavesdropper on a link
type TapDesc struct {
	Name string `json:"name" yaml:"name"`
	Link string `json:"link" yaml:"link"`
}

// ExpDesc gathers the full experiment description
type ExpDesc struct {
	Name             string        `json:"name" yaml:"name"`
	SimTime          float64       `json:"simtime" yaml:"simtime"`
	DynamicRouting   bool          `json:"dynamicrouting" yaml:"dynamicrouting"`
	ConvergenceDelay float64       `json:"convergencedelay" yaml:"convergencedelay"`
	IPSec            bool          `json:"ipsec" yaml:"ipsec"`
	Trace            bool          `json:"trace" yaml:"trace"`
	Gens             []GenDesc     `json:"generators" yaml:"generators"`
	Failures         []FailureDesc `json:"failures" yaml:"failures"`
	Limiters         []LimiterDesc `json:"limiters" yaml:"limiters"`
	Steering         []SteerDesc   `json:"steering" yaml:"steering"`
	Taps             []TapDesc     `json:"taps" yaml:"taps"`
}

// WriteToFile stores the TopoDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (td *TopoDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*td)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*td, "", "\t")
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

// ReadTopoDesc deserializes a byte slice holding a representation of a
// TopoDesc struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.
func ReadTopoDesc(filename string, useYAML bool, dict []byte) (*TopoDesc, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// WriteToFile stores the ExpDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (ed *ExpDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*ed)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*ed, "", "\t")
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

// ReadExpDesc deserializes a byte slice holding a representation of an
// ExpDesc struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.
func ReadExpDesc(filename string, useYAML bool, dict []byte) (*ExpDesc, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// validate checks the structural consistency of a topology
// description, gathering every problem found rather than stopping at
// the first
func (td *TopoDesc) validate() []error {
	errs := []error{}
	nodeNames := make(map[string]bool)
	intrfcNames := make(map[string]bool)
	linkNames := make(map[string]bool)

	for _, nd := range td.Nodes {
		if nodeNames[nd.Name] {
			errs = append(errs, fmt.Errorf("node name %s repeated", nd.Name))
		}
		nodeNames[nd.Name] = true
		if !slices.Contains(knownRoles, nd.Role) {
			errs = append(errs, fmt.Errorf("node %s: unrecognized role %s", nd.Name, nd.Role))
		}
		for _, id := range nd.Intrfcs {
			full := nd.Name + "." + id.Name
			if intrfcNames[full] {
				errs = append(errs, fmt.Errorf("interface name %s repeated", full))
			}
			intrfcNames[full] = true
			if _, err := netip.ParseAddr(id.Addr); err != nil {
				errs = append(errs, fmt.Errorf("interface %s: bad address %s", full, id.Addr))
			}
		}
	}

	for _, ld := range td.Links {
		if linkNames[ld.Name] {
			errs = append(errs, fmt.Errorf("link name %s repeated", ld.Name))
		}
		linkNames[ld.Name] = true
		if !intrfcNames[ld.EndptA] {
			errs = append(errs, fmt.Errorf("link %s: unknown endpoint %s", ld.Name, ld.EndptA))
		}
		if !intrfcNames[ld.EndptB] {
			errs = append(errs, fmt.Errorf("link %s: unknown endpoint %s", ld.Name, ld.EndptB))
		}
		if ld.Capacity <= 0.0 {
			errs = append(errs, fmt.Errorf("link %s: capacity %f not positive", ld.Name, ld.Capacity))
		}
		if ld.Latency < 0.0 {
			errs = append(errs, fmt.Errorf("link %s: negative latency %f", ld.Name, ld.Latency))
		}
		if ld.LossProb < 0.0 || ld.LossProb > 1.0 {
			errs = append(errs, fmt.Errorf("link %s: loss probability %f out of range", ld.Name, ld.LossProb))
		}
	}

	for _, rd := range td.Routes {
		if !nodeNames[rd.Node] {
			errs = append(errs, fmt.Errorf("route at unknown node %s", rd.Node))
		}
		if !linkNames[rd.Link] {
			errs = append(errs, fmt.Errorf("route at %s: unknown link %s", rd.Node, rd.Link))
		}
		if _, err := netip.ParsePrefix(rd.Dest); err != nil {
			errs = append(errs, fmt.Errorf("route at %s: bad destination %s", rd.Node, rd.Dest))
		}
		if _, err := netip.ParseAddr(rd.NextHop); err != nil {
			errs = append(errs, fmt.Errorf("route at %s: bad next hop %s", rd.Node, rd.NextHop))
		}
	}
	return errs
}

// validate checks an experiment description against the vocabularies
// and ordering constraints the builder assumes
func (ed *ExpDesc) validate() []error {
	errs := []error{}
	for _, gd := range ed.Gens {
		if !slices.Contains(knownVariants, gd.Variant) {
			errs = append(errs, fmt.Errorf("generator %s: unknown variant %s", gd.Name, gd.Variant))
		}
		if gd.StopAt != 0.0 && gd.StopAt < gd.StartAt {
			errs = append(errs, fmt.Errorf("generator %s: stop %f precedes start %f", gd.Name, gd.StopAt, gd.StartAt))
		}
	}
	for _, fd := range ed.Failures {
		if fd.RestoreAt != 0.0 && fd.RestoreAt < fd.FailAt {
			errs = append(errs, fmt.Errorf("failure on %s: restore %f precedes failure %f", fd.Link, fd.RestoreAt, fd.FailAt))
		}
	}
	for _, lmd := range ed.Limiters {
		if lmd.WindowSize <= 0.0 {
			errs = append(errs, fmt.Errorf("limiter at %s: window %f not positive", lmd.Node, lmd.WindowSize))
		}
		if lmd.RateLimit < 0.0 {
			errs = append(errs, fmt.Errorf("limiter at %s: negative rate %f", lmd.Node, lmd.RateLimit))
		}
	}
	return errs
}

// ReportErrs transforms a list of errors into a single error with a
// comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	err_msg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			err_msg = append(err_msg, err.Error())
		}
	}
	if len(err_msg) == 0 {
		return nil
	}

	return errors.New(strings.Join(err_msg, ","))
}
