package wansim

// flows.go defines how the experiment's packet event log is turned
// into per-flow and per-category statistics.  A flow is the unit of
// classification, identified by its five-tuple key; a classifier maps
// flows to named categories by the first matching rule; an aggregator
// folds the event log into per-category delay, jitter, loss, and
// throughput figures and grades each category against configurable
// quality thresholds

import (
	"fmt"
	"net/netip"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// A FlowKey identifies a directional flow
type FlowKey struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort int
	DstPort int
	Proto   string
}

func (fk FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%s", fk.Src, fk.SrcPort, fk.Dst, fk.DstPort, fk.Proto)
}

// PcktEventKind distinguishes the entries of the packet event log
type PcktEventKind int

const (
	PcktSent PcktEventKind = iota
	PcktRecv
	PcktDrop
)

// A PcktEvent is one entry of the experiment's packet event log.
// Delay is meaningful only on receive events
type PcktEvent struct {
	Key   FlowKey
	Kind  PcktEventKind
	Time  float64
	Size  int
	Delay float64
}

// FlowStats accumulates the per-flow counters the aggregator folds
// into category figures
type FlowStats struct {
	Key      FlowKey
	Sent     int
	Recv     int
	Drops    int
	RxBytes  int64
	firstTx  float64
	lastRx   float64
	seenTx   bool
	delaySum float64
	jitterSum float64
	lastDelay float64
	delays   []float64
}

// observe folds one event into the flow's counters
func (fs *FlowStats) observe(evt *PcktEvent) {
	switch evt.Kind {
	case PcktSent:
		fs.Sent += 1
		if !fs.seenTx || evt.Time < fs.firstTx {
			fs.firstTx = evt.Time
			fs.seenTx = true
		}
	case PcktRecv:
		fs.Recv += 1
		fs.RxBytes += int64(evt.Size)
		if evt.Time > fs.lastRx {
			fs.lastRx = evt.Time
		}
		fs.delaySum += evt.Delay
		if len(fs.delays) > 0 {
			diff := evt.Delay - fs.lastDelay
			if diff < 0.0 {
				diff = -diff
			}
			fs.jitterSum += diff
		}
		fs.lastDelay = evt.Delay
		fs.delays = append(fs.delays, evt.Delay)
	case PcktDrop:
		fs.Drops += 1
	}
}

// A ClassRule names a category and the predicate that admits flows
// to it
type ClassRule struct {
	Category string
	Match    func(FlowKey) bool
}

// A Classifier maps flows to categories by the first matching rule.
// Flows no rule claims land in the default category
type Classifier struct {
	rules      []ClassRule
	defaultCat string
}

// CreateClassifier makes a classifier with no rules and the given
// fallback category
func CreateClassifier(defaultCat string) *Classifier {
	cl := new(Classifier)
	cl.defaultCat = defaultCat
	return cl
}

// AddRule appends a rule.  Rules are consulted in insertion order
func (cl *Classifier) AddRule(category string, match func(FlowKey) bool) {
	cl.rules = append(cl.rules, ClassRule{Category: category, Match: match})
}

// Classify returns the category of a flow
func (cl *Classifier) Classify(key FlowKey) string {
	for _, rule := range cl.rules {
		if rule.Match(key) {
			return rule.Category
		}
	}
	return cl.defaultCat
}

// CreateDefaultClassifier builds the stock ruleset: voice signaling
// and media on its well-known port, flood traffic by its source
// prefix, everything else best effort
func CreateDefaultClassifier(attackPrefixes []netip.Prefix) *Classifier {
	cl := CreateClassifier("best-effort")
	cl.AddRule("voip", func(key FlowKey) bool {
		return key.DstPort == voipPort
	})
	cl.AddRule("attack", func(key FlowKey) bool {
		for _, pfx := range attackPrefixes {
			if pfx.Contains(key.Src) {
				return true
			}
		}
		return false
	})
	return cl
}

// VerdictThresholds grades a category from its average delay and
// loss ratio.  A category must be under both the delay and loss bound
// of a grade to earn it
type VerdictThresholds struct {
	ExcellentDelay float64 `json:"excellentdelay" yaml:"excellentdelay"`
	ExcellentLoss  float64 `json:"excellentloss" yaml:"excellentloss"`
	GoodDelay      float64 `json:"gooddelay" yaml:"gooddelay"`
	GoodLoss       float64 `json:"goodloss" yaml:"goodloss"`
	AcceptableDelay float64 `json:"acceptabledelay" yaml:"acceptabledelay"`
	AcceptableLoss  float64 `json:"acceptableloss" yaml:"acceptableloss"`
}

// DefaultVerdictThresholds returns the ITU-flavored voice grading
// bounds: 150 ms and 1 percent for excellent, 300 ms and 3 percent
// for good, 400 ms and 5 percent for acceptable
func DefaultVerdictThresholds() VerdictThresholds {
	return VerdictThresholds{
		ExcellentDelay: 0.150, ExcellentLoss: 0.01,
		GoodDelay: 0.300, GoodLoss: 0.03,
		AcceptableDelay: 0.400, AcceptableLoss: 0.05,
	}
}

// Verdict grades a delay and loss pair
func (vt VerdictThresholds) Verdict(avgDelay, lossRatio float64) string {
	switch {
	case avgDelay < vt.ExcellentDelay && lossRatio < vt.ExcellentLoss:
		return "excellent"
	case avgDelay < vt.GoodDelay && lossRatio < vt.GoodLoss:
		return "good"
	case avgDelay < vt.AcceptableDelay && lossRatio < vt.AcceptableLoss:
		return "acceptable"
	}
	return "poor"
}

// CategoryStats are the aggregated figures for one traffic category.
// Times are in seconds, throughput in bits per second
type CategoryStats struct {
	Category     string  `json:"category" yaml:"category"`
	Flows        int     `json:"flows" yaml:"flows"`
	Sent         int     `json:"sent" yaml:"sent"`
	Recv         int     `json:"recv" yaml:"recv"`
	Lost         int     `json:"lost" yaml:"lost"`
	LossRatio    float64 `json:"lossratio" yaml:"lossratio"`
	AvgDelay     float64 `json:"avgdelay" yaml:"avgdelay"`
	AvgJitter    float64 `json:"avgjitter" yaml:"avgjitter"`
	P50Delay     float64 `json:"p50delay" yaml:"p50delay"`
	P95Delay     float64 `json:"p95delay" yaml:"p95delay"`
	P99Delay     float64 `json:"p99delay" yaml:"p99delay"`
	ThroughputBps float64 `json:"throughputbps" yaml:"throughputbps"`
	Verdict      string  `json:"verdict" yaml:"verdict"`
}

// An Aggregator folds packet events into per-flow statistics and
// rolls them up by category
type Aggregator struct {
	classifier *Classifier
	thresholds VerdictThresholds
	flows      map[FlowKey]*FlowStats
}

// CreateAggregator is a constructor
func CreateAggregator(cl *Classifier, vt VerdictThresholds) *Aggregator {
	agg := new(Aggregator)
	agg.classifier = cl
	agg.thresholds = vt
	agg.flows = make(map[FlowKey]*FlowStats)
	return agg
}

// Observe folds one event into the per-flow state
func (agg *Aggregator) Observe(evt *PcktEvent) {
	fs, present := agg.flows[evt.Key]
	if !present {
		fs = &FlowStats{Key: evt.Key}
		agg.flows[evt.Key] = fs
	}
	fs.observe(evt)
}

// Flow returns the accumulated statistics of one flow, nil if the
// flow was never seen
func (agg *Aggregator) Flow(key FlowKey) *FlowStats {
	return agg.flows[key]
}

// Categories rolls the per-flow state up into per-category figures,
// sorted by category name.  Lost counts sent packets that were never
// received, floored at zero so a reply flow with no matching send
// cannot drive it negative
func (agg *Aggregator) Categories() []*CategoryStats {
	byCat := make(map[string]*CategoryStats)
	delaysByCat := make(map[string][]float64)
	firstTxByCat := make(map[string]float64)
	lastRxByCat := make(map[string]float64)
	rxBytesByCat := make(map[string]int64)
	delaySumByCat := make(map[string]float64)
	jitterSumByCat := make(map[string]float64)

	for key, fs := range agg.flows {
		cat := agg.classifier.Classify(key)
		cs, present := byCat[cat]
		if !present {
			cs = &CategoryStats{Category: cat}
			byCat[cat] = cs
			firstTxByCat[cat] = -1.0
		}
		cs.Flows += 1
		cs.Sent += fs.Sent
		cs.Recv += fs.Recv
		rxBytesByCat[cat] += fs.RxBytes
		delaySumByCat[cat] += fs.delaySum
		jitterSumByCat[cat] += fs.jitterSum
		delaysByCat[cat] = append(delaysByCat[cat], fs.delays...)
		if fs.seenTx && (firstTxByCat[cat] < 0.0 || fs.firstTx < firstTxByCat[cat]) {
			firstTxByCat[cat] = fs.firstTx
		}
		if fs.lastRx > lastRxByCat[cat] {
			lastRxByCat[cat] = fs.lastRx
		}
	}

	cats := make([]*CategoryStats, 0, len(byCat))
	for cat, cs := range byCat {
		cs.Lost = cs.Sent - cs.Recv
		if cs.Lost < 0 {
			cs.Lost = 0
		}
		if cs.Sent > 0 {
			cs.LossRatio = float64(cs.Lost) / float64(cs.Sent)
		}
		if cs.Recv > 0 {
			cs.AvgDelay = delaySumByCat[cat] / float64(cs.Recv)
		}
		if cs.Recv > 1 {
			cs.AvgJitter = jitterSumByCat[cat] / float64(cs.Recv-1)
		}
		delays := delaysByCat[cat]
		if len(delays) > 0 {
			sort.Float64s(delays)
			cs.P50Delay = stat.Quantile(0.50, stat.Empirical, delays, nil)
			cs.P95Delay = stat.Quantile(0.95, stat.Empirical, delays, nil)
			cs.P99Delay = stat.Quantile(0.99, stat.Empirical, delays, nil)
		}
		if firstTxByCat[cat] >= 0.0 && rxBytesByCat[cat] > 0 {
			span := lastRxByCat[cat] - firstTxByCat[cat]
			if span < 1e-12 {
				span = 1e-12
			}
			cs.ThroughputBps = float64(rxBytesByCat[cat]) * 8.0 / span
		}
		cs.Verdict = agg.thresholds.Verdict(cs.AvgDelay, cs.LossRatio)
		cats = append(cats, cs)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Category < cats[j].Category })
	return cats
}
