package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/config"
	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
)

// Notifier is told after each ingested packet that new data and a refreshed
// throughput figure are available. The hub implements it as a broadcast.
type Notifier interface {
	DataAvailable(bufferLen int, bytesPerSecond int64)
}

// UDPListener receives datagrams on a single port bound once at startup and
// feeds the packet buffer. Receive errors are logged and the loop continues;
// only the initial bind can fail the process.
type UDPListener struct {
	conn       *net.UDPConn
	cfg        *config.IngestConfig
	logger     *slog.Logger
	buf        *buffer.Buffer
	throughput *Throughput
	notifier   Notifier
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	packetsReceived uint64
	bytesReceived   uint64
	receiveErrors   uint64
}

// NewUDPListener creates a listener feeding the given buffer.
func NewUDPListener(cfg *config.IngestConfig, logger *slog.Logger, buf *buffer.Buffer,
	throughput *Throughput, notifier Notifier, m *metrics.Metrics) *UDPListener {

	ctx, cancel := context.WithCancel(context.Background())

	return &UDPListener{
		cfg:        cfg,
		logger:     logger,
		buf:        buf,
		throughput: throughput,
		notifier:   notifier,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the UDP port and begins receiving. A bind failure is returned
// to the caller, which treats it as fatal.
func (l *UDPListener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.cfg.BindAddress, l.cfg.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	l.conn = conn

	if err := l.conn.SetReadBuffer(l.cfg.ReadBuffer); err != nil {
		l.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("read_buffer", l.cfg.ReadBuffer),
			slog.String("error", err.Error()),
		)
	}

	l.logger.Info("UDP listener started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("read_buffer", l.cfg.ReadBuffer),
	)

	l.wg.Add(1)
	go l.receiveLoop()

	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (l *UDPListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop shuts the listener down and waits for the receive loop to exit.
func (l *UDPListener) Stop() error {
	l.logger.Info("Stopping UDP listener...")

	l.cancel()
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}
	l.wg.Wait()

	l.mu.RLock()
	received := l.packetsReceived
	errors := l.receiveErrors
	l.mu.RUnlock()

	l.logger.Info("UDP listener stopped",
		slog.Uint64("packets_received", received),
		slog.Uint64("receive_errors", errors),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop.
func (l *UDPListener) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, 65536)

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		// Read deadline so the loop can observe cancellation.
		if err := l.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-l.ctx.Done():
				return
			default:
			}

			l.mu.Lock()
			l.receiveErrors++
			l.mu.Unlock()
			if l.metrics != nil {
				l.metrics.ReceiveErrors.Inc()
			}
			l.logger.Error("Failed to read datagram", slog.String("error", err.Error()))
			continue
		}

		// The read buffer is reused, so the payload must be copied out.
		payload := make([]byte, n)
		copy(payload, buf[:n])

		l.ingest(payload, remoteAddr.String())
	}
}

// ingest wraps a payload as a packet, buffers it, updates the throughput
// figure and notifies connected clients.
func (l *UDPListener) ingest(payload []byte, remoteAddr string) {
	packet := buffer.NewPacket(payload, time.Now())
	l.buf.Push(packet)
	l.throughput.Add(packet.Size)

	l.mu.Lock()
	l.packetsReceived++
	l.bytesReceived += uint64(packet.Size)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.PacketsReceived.Inc()
		l.metrics.BytesReceived.Add(float64(packet.Size))
		l.metrics.BufferPackets.Set(float64(l.buf.Len()))
		l.metrics.BufferBytes.Set(float64(l.buf.TotalBytes()))
		l.metrics.Throughput.Set(float64(l.throughput.BytesPerSecond()))
	}

	l.logger.Debug("Datagram ingested",
		slog.String("packet_id", packet.ID),
		slog.Int("size", packet.Size),
		slog.String("remote_addr", remoteAddr),
	)

	if l.notifier != nil {
		l.notifier.DataAvailable(l.buf.Len(), l.throughput.BytesPerSecond())
	}
}

// Statistics is a snapshot of listener counters.
type Statistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	ReceiveErrors   uint64 `json:"receive_errors"`
}

// GetStatistics returns current listener counters.
func (l *UDPListener) GetStatistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Statistics{
		PacketsReceived: l.packetsReceived,
		BytesReceived:   l.bytesReceived,
		ReceiveErrors:   l.receiveErrors,
	}
}
