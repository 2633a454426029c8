package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/config"
	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
)

// NATSSubscriber feeds packets from a NATS subject into the same pipeline as
// the UDP listener, for deployments where the datagram feed arrives over a
// broker instead of raw UDP. Message payloads stay opaque bytes.
type NATSSubscriber struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	subject    string
	logger     *slog.Logger
	buf        *buffer.Buffer
	throughput *Throughput
	notifier   Notifier
	metrics    *metrics.Metrics
}

// NewNATSSubscriber connects to the configured NATS server.
func NewNATSSubscriber(cfg *config.NATSConfig, logger *slog.Logger, buf *buffer.Buffer,
	throughput *Throughput, notifier Notifier, m *metrics.Metrics) (*NATSSubscriber, error) {

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS", slog.String("url", cfg.URL))

	return &NATSSubscriber{
		nc:         nc,
		subject:    cfg.Subject,
		logger:     logger,
		buf:        buf,
		throughput: throughput,
		notifier:   notifier,
		metrics:    m,
	}, nil
}

// Start subscribes and begins ingesting messages.
func (s *NATSSubscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		payload := make([]byte, len(msg.Data))
		copy(payload, msg.Data)

		packet := buffer.NewPacket(payload, time.Now())
		s.buf.Push(packet)
		s.throughput.Add(packet.Size)

		if s.metrics != nil {
			s.metrics.PacketsReceived.Inc()
			s.metrics.BytesReceived.Add(float64(packet.Size))
			s.metrics.BufferPackets.Set(float64(s.buf.Len()))
			s.metrics.BufferBytes.Set(float64(s.buf.TotalBytes()))
		}

		if s.notifier != nil {
			s.notifier.DataAvailable(s.buf.Len(), s.throughput.BytesPerSecond())
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub

	s.logger.Info("NATS ingestion started", slog.String("subject", s.subject))
	return nil
}

// Close unsubscribes and drains the connection.
func (s *NATSSubscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("Error unsubscribing from NATS", slog.String("error", err.Error()))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn("Error draining NATS connection", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("NATS ingestion stopped")
}
