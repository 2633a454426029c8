package ingest

import (
	"sync"
	"time"
)

// Throughput is a per-second byte counter over true wall-clock one-second
// windows with hard reset. It is recomputed when a second has elapsed, not
// on every packet, and decays to zero after an idle window.
type Throughput struct {
	mu          sync.Mutex
	windowStart time.Time
	bytes       int64
	current     int64
}

// NewThroughput creates a meter with an open window starting now.
func NewThroughput() *Throughput {
	return &Throughput{windowStart: time.Now()}
}

// Add counts n payload bytes into the current window, rolling the window
// first if a second has elapsed.
func (t *Throughput) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(time.Now())
	t.bytes += int64(n)
}

// BytesPerSecond returns the byte count of the last completed window.
func (t *Throughput) BytesPerSecond() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(time.Now())
	return t.current
}

// roll closes the window if its second has elapsed. A gap of more than one
// extra window means nothing arrived in between, so the figure drops to
// zero rather than reporting stale bytes.
func (t *Throughput) roll(now time.Time) {
	elapsed := now.Sub(t.windowStart)
	if elapsed < time.Second {
		return
	}
	if elapsed < 2*time.Second {
		t.current = t.bytes
	} else {
		t.current = 0
	}
	t.bytes = 0
	t.windowStart = now
}
