package wansim

// limiter.go implements the admission controller: a per-source
// fixed-window byte budget applied to packets arriving at the
// protected router, before any further processing.  Refusals are
// counted, never raised; the tally surfaces in the post-run summary.

import (
	"net/netip"
)

// limiterWindow holds the windowed counters for one source identity
type limiterWindow struct {
	windowStart   float64
	bytesInWindow int64
	dropped       int
}

// A RateLimiter admits or refuses packets against a byte budget of
// rateLimit bytes per second, accounted in fixed windows of
// windowSize seconds, independently per source address
type RateLimiter struct {
	rateLimit  float64 // bytes per second; zero denies everything
	windowSize float64 // seconds
	perSrc     map[netip.Addr]*limiterWindow
	dropped    int // refusals across all sources
}

// CreateRateLimiter is a constructor
func CreateRateLimiter(rateLimit, windowSize float64) *RateLimiter {
	rl := new(RateLimiter)
	rl.rateLimit = rateLimit
	rl.windowSize = windowSize
	rl.perSrc = make(map[netip.Addr]*limiterWindow)
	return rl
}

// AllowPacket decides admission for a packet of sizeBytes from src at
// virtual time now.  The window reset boundary is inclusive: a packet
// landing exactly at windowStart+windowSize opens a fresh window
func (rl *RateLimiter) AllowPacket(sizeBytes int, src netip.Addr, now float64) bool {
	win, present := rl.perSrc[src]
	if !present {
		win = &limiterWindow{windowStart: now}
		rl.perSrc[src] = win
	}

	if now-win.windowStart >= rl.windowSize {
		win.bytesInWindow = 0
		win.windowStart = now
	}

	maxBytes := int64(rl.rateLimit * rl.windowSize)
	if win.bytesInWindow+int64(sizeBytes) <= maxBytes {
		win.bytesInWindow += int64(sizeBytes)
		return true
	}

	win.dropped += 1
	rl.dropped += 1
	return false
}

// Dropped returns the total number of refusals over the run
func (rl *RateLimiter) Dropped() int {
	return rl.dropped
}

// DroppedFrom returns the refusals charged to one source
func (rl *RateLimiter) DroppedFrom(src netip.Addr) int {
	win, present := rl.perSrc[src]
	if !present {
		return 0
	}
	return win.dropped
}
