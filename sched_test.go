package wansim

import (
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
)

func TestPendingEvtFires(t *testing.T) {
	evtMgr := evtm.New()
	fired := 0
	hdlr := func(m *evtm.EventManager, cxt any, data any) any {
		fired += 1
		return nil
	}

	schedulePending(evtMgr, nil, nil, hdlr, 1.0)
	evtMgr.Run(2.0)
	assert.Equal(t, 1, fired)
}

func TestPendingEvtCancelledNeverFires(t *testing.T) {
	evtMgr := evtm.New()
	fired := 0
	hdlr := func(m *evtm.EventManager, cxt any, data any) any {
		fired += 1
		return nil
	}

	pe := schedulePending(evtMgr, nil, nil, hdlr, 1.0)
	pe.Cancel()
	evtMgr.Run(2.0)
	assert.Equal(t, 0, fired, "a cancelled registration must stay dead")
}

func TestPendingEvtCancelFromEarlierEvent(t *testing.T) {
	evtMgr := evtm.New()
	fired := 0
	hdlr := func(m *evtm.EventManager, cxt any, data any) any {
		fired += 1
		return nil
	}

	pe := schedulePending(evtMgr, nil, nil, hdlr, 1.0)
	canceller := func(m *evtm.EventManager, cxt any, data any) any {
		cxt.(*pendingEvt).Cancel()
		return nil
	}
	evtMgr.Schedule(pe, nil, canceller, secondsToTime(0.5))

	evtMgr.Run(2.0)
	assert.Equal(t, 0, fired)
}

func TestPendingEvtCancelIsIdempotent(t *testing.T) {
	evtMgr := evtm.New()
	pe := schedulePending(evtMgr, nil, nil, NullHandler, 1.0)
	pe.Cancel()
	pe.Cancel()
	evtMgr.Run(2.0)
	assert.True(t, pe.cancelled)
}

func TestPendingEvtCarriesContextAndData(t *testing.T) {
	evtMgr := evtm.New()
	type payload struct{ v int }
	var gotCxt, gotData any
	hdlr := func(m *evtm.EventManager, cxt any, data any) any {
		gotCxt, gotData = cxt, data
		return nil
	}

	cxt := &payload{v: 1}
	data := &payload{v: 2}
	schedulePending(evtMgr, cxt, data, hdlr, 0.5)
	evtMgr.Run(1.0)

	assert.Same(t, cxt, gotCxt)
	assert.Same(t, data, gotData)
}
