package wansim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// genPair builds a minimal two-node topology a generator can run over
func genPair(t *testing.T) (*Experiment, *Node, *Node) {
	t.Helper()
	ex := CreateExperiment("gen", nil)
	src := ex.AddNode("src", clientRole)
	dst := ex.AddNode("dst", serverRole)
	a := ex.AddIntrfc(src, "eth0", mustAddr("10.0.0.1"))
	b := ex.AddIntrfc(dst, "eth0", mustAddr("10.0.0.2"))
	ex.AddLink("wire", a, b, 10.0, 0.001, 1, 50)
	return ex, src, dst
}

func TestGeneratorIntervals(t *testing.T) {
	ex, src, dst := genPair(t)

	voice := CreateVoIPGen(ex, "v", src, dst)
	assert.InDelta(t, 0.020, voice.Interval(), 1e-12, "160 bytes at 64 kbps")

	flood := CreateFloodGen(ex, "f", src, dst)
	assert.InDelta(t, 0.004096, flood.Interval(), 1e-15, "1024 bytes at 2 Mbps")

	probe := CreateEchoGen(ex, "e", src, dst)
	assert.InDelta(t, 0.100, probe.Interval(), 1e-12)
}

func TestGeneratorVariantDefaults(t *testing.T) {
	ex, src, dst := genPair(t)

	voice := CreateVoIPGen(ex, "v", src, dst)
	assert.Equal(t, voipPort, voice.key.DstPort)
	assert.Equal(t, prioHigh, voice.prio)
	assert.Equal(t, 1500, voice.limit)

	flood := CreateFloodGen(ex, "f", src, dst)
	assert.Equal(t, prioBest, flood.prio)
	assert.Equal(t, 0, flood.limit, "flood runs until stopped")

	probe := CreateEchoGen(ex, "e", src, dst)
	assert.Equal(t, echoPort, probe.key.DstPort)
	assert.Equal(t, 1000, probe.limit)
}

func TestGeneratorSetupValidation(t *testing.T) {
	ex, src, dst := genPair(t)

	good := CreateVoIPGen(ex, "good", src, dst)
	assert.NoError(t, good.Setup())

	bad := CreateVoIPGen(ex, "bad", src, dst)
	bad.bitRate = 0.0
	assert.Error(t, bad.Setup())

	isolated := ex.AddNode("isolated", clientRole)
	noAddr := CreateVoIPGen(ex, "noaddr", isolated, dst)
	assert.Error(t, noAddr.Setup())
}

func TestGeneratorLifeCycle(t *testing.T) {
	ex, src, dst := genPair(t)

	gen := CreateVoIPGen(ex, "v", src, dst)
	require.NoError(t, gen.Setup())
	assert.False(t, gen.Running())

	// stop before start pins the generator in its terminal state
	gen.Stop()
	assert.False(t, gen.Running())
	assert.Equal(t, genStopped, gen.state)

	// start on a stopped generator is a no-op
	ex.Run(0.5)
	assert.Equal(t, 0, gen.Sent())
}

func TestGeneratorStopIsLocal(t *testing.T) {
	ex, src, dst := genPair(t)

	voice := CreateVoIPGen(ex, "v", src, dst)
	voice.SetWindow(0.0, 0.0)
	flood := CreateFloodGen(ex, "f", src, dst)
	flood.SetWindow(0.0, 0.1)

	ex.Run(1.0)

	// the flood stopped at 0.1s; the voice source kept its cadence
	assert.Equal(t, genStopped, flood.state)
	assert.True(t, voice.Sent() > 40, "voice sent %d", voice.Sent())
	assert.True(t, flood.Sent() < voice.Sent())
	assert.True(t, flood.Sent() >= 20, "flood sent %d before its stop", flood.Sent())
}

func TestGeneratorHonorsPacketLimit(t *testing.T) {
	ex, src, dst := genPair(t)

	gen := CreateVoIPGen(ex, "v", src, dst)
	gen.limit = 10
	gen.SetWindow(0.0, 0.0)

	ex.Run(5.0)
	assert.Equal(t, 10, gen.Sent())
	assert.Equal(t, genStopped, gen.state)
}

func TestEchoResponderReflects(t *testing.T) {
	ex, src, dst := genPair(t)

	probe := CreateEchoGen(ex, "probe", src, dst)
	probe.limit = 5
	probe.SetWindow(0.0, 0.0)
	responder := CreateEchoResponder(ex, "responder", dst)

	ex.Run(2.0)

	assert.Equal(t, 5, probe.Sent())
	assert.Equal(t, 5, responder.Replied())

	// the reflected flow shows up in the event log keyed in reverse
	reverse := FlowKey{
		Src: probe.key.Dst, Dst: probe.key.Src,
		SrcPort: probe.key.DstPort, DstPort: probe.key.SrcPort,
		Proto: probe.key.Proto,
	}
	recv := 0
	for _, evt := range ex.EvtLog() {
		if evt.Key == reverse && evt.Kind == PcktRecv {
			recv += 1
		}
	}
	assert.Equal(t, 5, recv)
}
