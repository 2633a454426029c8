package admission

import (
	"sync"
	"time"
)

// window is one fixed rate window for a single subject. The count is only
// meaningful within start..start+interval; an elapsed window is reset rather
// than accumulated.
type window struct {
	start time.Time
	count int
}

// Gate is a fixed-window rate limiter keyed by subject (an address or a
// connection ID). The algorithm is intentionally simple and bursty at window
// boundaries; it provides coarse abuse prevention, not precise shaping.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	limit    int
	windows  map[string]*window
}

// NewGate creates a gate allowing limit events per interval per subject.
func NewGate(interval time.Duration, limit int) *Gate {
	return &Gate{
		interval: interval,
		limit:    limit,
		windows:  make(map[string]*window),
	}
}

// Allow reports whether the subject may perform another event now. The first
// event after an elapsed interval resets the subject's window.
func (g *Gate) Allow(subject string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()

	w, ok := g.windows[subject]
	if !ok || now.Sub(w.start) > g.interval {
		g.windows[subject] = &window{start: now, count: 1}
		return true
	}

	if w.count >= g.limit {
		return false
	}

	w.count++
	return true
}

// Sweep drops windows whose interval has elapsed so the table does not grow
// without bound. Intended to be called periodically.
func (g *Gate) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for subject, w := range g.windows {
		if now.Sub(w.start) > g.interval {
			delete(g.windows, subject)
		}
	}
}

// ClassLimit configures one event-class gate.
type ClassLimit struct {
	Interval time.Duration
	Limit    int
}

// EventGate applies event-class-specific fixed windows to per-connection
// control-plane events: tight limits for role changes, looser limits for
// high-frequency signaling. Unknown classes are allowed through.
type EventGate struct {
	gates map[string]*Gate
}

// NewEventGate builds a gate per event class from the given limits.
func NewEventGate(limits map[string]ClassLimit) *EventGate {
	gates := make(map[string]*Gate, len(limits))
	for class, l := range limits {
		gates[class] = NewGate(l.Interval, l.Limit)
	}
	return &EventGate{gates: gates}
}

// Allow reports whether the connection may process another event of the
// given class.
func (e *EventGate) Allow(class, connID string) bool {
	g, ok := e.gates[class]
	if !ok {
		return true
	}
	return g.Allow(connID)
}

// Sweep sweeps every class gate.
func (e *EventGate) Sweep() {
	for _, g := range e.gates {
		g.Sweep()
	}
}

// ConnCap tracks currently-open connections per originating address and
// refuses new ones past a configured ceiling.
type ConnCap struct {
	mu     sync.Mutex
	cap    int
	counts map[string]int
}

// NewConnCap creates a cap allowing at most max open connections per address.
func NewConnCap(max int) *ConnCap {
	return &ConnCap{
		cap:    max,
		counts: make(map[string]int),
	}
}

// Acquire registers a new connection for the address. It returns false when
// the address is already at the cap; the caller must then close the
// connection immediately and must not call Release.
func (c *ConnCap) Acquire(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[addr] >= c.cap {
		return false
	}
	c.counts[addr]++
	return true
}

// Release drops one connection for the address. Callers pair it with a
// successful Acquire.
func (c *ConnCap) Release(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.counts[addr]; n > 1 {
		c.counts[addr] = n - 1
	} else {
		delete(c.counts, addr)
	}
}

// Open returns the number of open connections for the address.
func (c *ConnCap) Open(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[addr]
}
