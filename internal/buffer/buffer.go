package buffer

import (
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultMaxWindow is the server-imposed ceiling on the number of packets
// returned by a single Window call, regardless of what the client asked for.
const DefaultMaxWindow = 50

// Packet is a single ingested datagram. The payload is opaque bytes; the ID
// is derived from the payload content so a consumer can detect duplicate
// re-ingestion. Packets are never mutated after insertion.
type Packet struct {
	ID         string
	Payload    []byte
	ReceivedAt time.Time
	Size       int
}

// PacketID derives a short content-hash identifier for a payload. FNV-1a is
// collision-tolerant, not cryptographically unique, which is all duplicate
// detection needs.
func PacketID(payload []byte) string {
	h := fnv.New64a()
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// NewPacket wraps a payload as a Packet with a content-derived ID and the
// given receive timestamp.
func NewPacket(payload []byte, receivedAt time.Time) Packet {
	return Packet{
		ID:         PacketID(payload),
		Payload:    payload,
		ReceivedAt: receivedAt,
		Size:       len(payload),
	}
}

// Buffer is an insertion-ordered window of recent packets bounded by a byte
// ceiling. When a push takes the total payload size over the ceiling, the
// oldest packets are evicted one at a time until the total fits again. A
// single packet larger than the ceiling is kept on its own.
type Buffer struct {
	mu        sync.RWMutex
	packets   []Packet
	total     int
	ceiling   int
	maxWindow int
}

// New creates a buffer with the given byte ceiling. maxWindow caps the
// number of packets a single Window call may return; zero or negative means
// DefaultMaxWindow.
func New(ceiling, maxWindow int) *Buffer {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	return &Buffer{
		ceiling:   ceiling,
		maxWindow: maxWindow,
	}
}

// Push appends a packet and evicts from the front until the total payload
// size fits under the ceiling. Pushing an oversized packet never fails; the
// buffer simply shrinks to that one packet.
func (b *Buffer) Push(p Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.packets = append(b.packets, p)
	b.total += p.Size

	for b.total > b.ceiling && len(b.packets) > 1 {
		b.total -= b.packets[0].Size
		b.packets[0] = Packet{}
		b.packets = b.packets[1:]
	}
}

// Window returns a contiguous, order-preserving slice of packets starting at
// start (clamped into range), holding at most min(max, maxWindow) packets.
// next is the index to request on the following call and hasMore reports
// whether packets remain past the returned slice. An empty buffer yields an
// empty result with hasMore false.
func (b *Buffer) Window(start, max int) (packets []Packet, next int, hasMore bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.packets) == 0 {
		return nil, 0, false
	}

	if start < 0 {
		start = 0
	}
	if start > len(b.packets)-1 {
		start = len(b.packets) - 1
	}

	if max <= 0 || max > b.maxWindow {
		max = b.maxWindow
	}

	end := start + max
	if end > len(b.packets) {
		end = len(b.packets)
	}

	packets = make([]Packet, end-start)
	copy(packets, b.packets[start:end])

	return packets, end, end < len(b.packets)
}

// Len returns the current packet count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.packets)
}

// TotalBytes returns the sum of payload sizes across all held packets.
func (b *Buffer) TotalBytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
