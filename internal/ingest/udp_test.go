package ingest

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/config"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) DataAvailable(bufferLen int, bps int64) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func TestUDPListenerIngestsDatagrams(t *testing.T) {
	cfg := &config.IngestConfig{
		UDPPort:     0, // ephemeral
		BindAddress: "127.0.0.1",
		ReadBuffer:  64 * 1024,
	}
	buf := buffer.New(1<<20, 0)
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listener := NewUDPListener(cfg, logger, buf, NewThroughput(), notifier, nil)
	if err := listener.Start(); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Stop()

	conn, err := net.Dial("udp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer conn.Close()

	payloads := [][]byte{
		[]byte("first datagram"),
		[]byte("second datagram"),
		[]byte("third"),
	}
	for _, p := range payloads {
		if _, err := conn.Write(p); err != nil {
			t.Fatalf("Failed to send datagram: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() < len(payloads) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if buf.Len() != len(payloads) {
		t.Fatalf("Expected %d packets buffered, got %d", len(payloads), buf.Len())
	}

	// Arrival order is preserved and IDs are content-derived.
	packets, _, _ := buf.Window(0, 10)
	for i, p := range packets {
		if string(p.Payload) != string(payloads[i]) {
			t.Errorf("Packet %d payload mismatch: got %q", i, p.Payload)
		}
		if p.ID != buffer.PacketID(payloads[i]) {
			t.Errorf("Packet %d has wrong content ID", i)
		}
	}

	if notifier.count() != len(payloads) {
		t.Errorf("Expected %d data-available notices, got %d", len(payloads), notifier.count())
	}

	stats := listener.GetStatistics()
	if stats.PacketsReceived != uint64(len(payloads)) {
		t.Errorf("Expected %d packets in statistics, got %d", len(payloads), stats.PacketsReceived)
	}
}

func TestUDPListenerStopIsClean(t *testing.T) {
	cfg := &config.IngestConfig{
		UDPPort:     0,
		BindAddress: "127.0.0.1",
		ReadBuffer:  64 * 1024,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listener := NewUDPListener(cfg, logger, buffer.New(1<<20, 0), NewThroughput(), nil, nil)

	if err := listener.Start(); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	if err := listener.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}
