package wansim

// sched.go holds the small layer between wansim components and the
// evtm event manager.  Components that may need to withdraw a pending
// event (a generator cancelling its next send, a steering controller
// being shut down) schedule through a pendingEvt handle rather than
// calling evtMgr.Schedule directly.  A cancelled handle's target
// handler is never called, no matter when the cancellation lands
// relative to the event's timestamp.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// pendingEvt is the command object handed to the event manager in place
// of the target handler.  It owns exactly the context and data the
// target mutates, which keeps suspension and cancellation auditable.
type pendingEvt struct {
	cancelled bool
	hdlr      evtm.EventHandlerFunction
	cxt       any
	data      any
}

// schedulePending registers hdlr to run after delay seconds of virtual time
// and returns a handle through which the registration can be withdrawn
func schedulePending(evtMgr *evtm.EventManager, cxt any, data any,
	hdlr evtm.EventHandlerFunction, delay float64) *pendingEvt {

	pe := new(pendingEvt)
	pe.hdlr = hdlr
	pe.cxt = cxt
	pe.data = data
	evtMgr.Schedule(pe, nil, firePending, vrtime.SecondsToTime(delay))
	return pe
}

// Cancel marks the pending event as withdrawn.  The dispatch record stays
// in the event queue but firePending drops it without calling the target
func (pe *pendingEvt) Cancel() {
	pe.cancelled = true
}

// firePending is the event handler the event manager actually sees.
// It forwards to the target handler unless the handle was cancelled first
func firePending(evtMgr *evtm.EventManager, context any, data any) any {
	pe := context.(*pendingEvt)
	if pe.cancelled {
		return nil
	}
	return pe.hdlr(evtMgr, pe.cxt, pe.data)
}

// secondsToTime converts a float64 seconds offset into the event
// manager's virtual time representation
func secondsToTime(t float64) vrtime.Time {
	return vrtime.SecondsToTime(t)
}

// NullHandler exists to provide a link for data fields that call for
// an event handler, but no event handler is actually needed
func NullHandler(evtMgr *evtm.EventManager, context any, msg any) any {
	return nil
}
