package server

import (
	"log/slog"

	"github.com/Vicinious/udp-webrtc-player/internal/admission"
	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/ingest"
	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
	"github.com/Vicinious/udp-webrtc-player/internal/protocol"
	"github.com/Vicinious/udp-webrtc-player/internal/relay"
	"github.com/Vicinious/udp-webrtc-player/internal/session"
)

// Event classes for the per-connection admission gate. Role changes are
// limited tightly, signaling loosely, data requests in between.
const (
	ClassRole   = "role"
	ClassSignal = "signal"
	ClassData   = "data"
)

// Dispatcher wires inbound client events to the buffer, registry and relay.
// A misbehaving client's events are dropped, never escalated: nothing a
// single connection sends can disturb another client's state.
type Dispatcher struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	buf        *buffer.Buffer
	throughput *ingest.Throughput
	registry   *session.Registry
	relay      *relay.Relay
	events     *admission.EventGate
	sender     relay.Sender
}

// NewDispatcher creates the control-plane event dispatcher.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics, buf *buffer.Buffer,
	throughput *ingest.Throughput, registry *session.Registry, rly *relay.Relay,
	events *admission.EventGate, sender relay.Sender) *Dispatcher {

	return &Dispatcher{
		logger:     logger,
		metrics:    m,
		buf:        buf,
		throughput: throughput,
		registry:   registry,
		relay:      rly,
		events:     events,
		sender:     sender,
	}
}

// eventClass maps an event type to its admission class.
func eventClass(t protocol.EventType) string {
	switch t {
	case protocol.TypeRegisterSource, protocol.TypeUnregisterSource,
		protocol.TypeRegisterFollower, protocol.TypeUnregisterFollower:
		return ClassRole
	case protocol.TypeSignal:
		return ClassSignal
	case protocol.TypeRequestDataWindow:
		return ClassData
	default:
		return ""
	}
}

// Dispatch processes one inbound control-plane event from connID. Malformed
// events and admission violations are dropped with a log line.
func (d *Dispatcher) Dispatch(connID string, data []byte) {
	typ, err := protocol.DecodeType(data)
	if err != nil {
		d.logger.Debug("Dropping malformed event",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
		)
		return
	}

	class := eventClass(typ)
	if class != "" && !d.events.Allow(class, connID) {
		if d.metrics != nil {
			d.metrics.AdmissionDenied.WithLabelValues(class).Inc()
		}
		d.logger.Warn("Event rate limit exceeded, dropping",
			slog.String("conn_id", connID),
			slog.String("event", string(typ)),
			slog.String("class", class),
		)
		return
	}

	if d.metrics != nil {
		d.metrics.EventsDispatched.WithLabelValues(string(typ)).Inc()
	}

	switch typ {
	case protocol.TypeRequestDataWindow:
		d.handleDataWindow(connID, data)

	case protocol.TypeRegisterSource:
		ref, err := protocol.DecodeStreamRef(data)
		if err != nil {
			d.dropMalformed(connID, typ, err)
			return
		}
		d.registry.RegisterSource(ref.StreamID, connID)

	case protocol.TypeUnregisterSource:
		ref, err := protocol.DecodeStreamRef(data)
		if err != nil {
			d.dropMalformed(connID, typ, err)
			return
		}
		d.registry.UnregisterSource(ref.StreamID, connID, session.ReasonSourceUnregistered)

	case protocol.TypeRegisterFollower:
		ref, err := protocol.DecodeStreamRef(data)
		if err != nil {
			d.dropMalformed(connID, typ, err)
			return
		}
		d.registry.RegisterFollower(ref.StreamID, connID)

	case protocol.TypeUnregisterFollower:
		ref, err := protocol.DecodeStreamRef(data)
		if err != nil {
			d.dropMalformed(connID, typ, err)
			return
		}
		d.registry.UnregisterFollower(ref.StreamID, connID)

	case protocol.TypeSignal:
		d.relay.Forward(connID, data)

	default:
		d.logger.Debug("Unknown event type, dropping",
			slog.String("conn_id", connID),
			slog.String("event", string(typ)),
		)
	}

	d.updateGauges()
}

// handleDataWindow answers a requestDataWindow with a slice of the buffer.
func (d *Dispatcher) handleDataWindow(connID string, data []byte) {
	req, err := protocol.DecodeRequestDataWindow(data)
	if err != nil {
		d.dropMalformed(connID, protocol.TypeRequestDataWindow, err)
		return
	}

	packets, next, hasMore := d.buf.Window(req.StartIndex, req.ChunkSize)

	chunks := make([]protocol.Chunk, len(packets))
	for i, p := range packets {
		chunks[i] = protocol.Chunk{
			ID:        p.ID,
			Payload:   p.Payload,
			Timestamp: p.ReceivedAt.UnixMilli(),
			Size:      p.Size,
		}
	}

	out, err := protocol.Encode(protocol.DataWindow{
		Type:       protocol.TypeDataWindow,
		Chunks:     chunks,
		NextIndex:  next,
		HasMore:    hasMore,
		Timestamp:  protocol.Now(),
		Throughput: d.throughput.BytesPerSecond(),
	})
	if err != nil {
		d.logger.Error("Failed to encode dataWindow", slog.String("error", err.Error()))
		return
	}

	d.sender.Send(connID, out)
}

// ConnectionClosed runs the registry cleanup path for a disconnect.
func (d *Dispatcher) ConnectionClosed(connID string) {
	d.registry.OnConnectionClosed(connID)
	d.updateGauges()
}

func (d *Dispatcher) dropMalformed(connID string, typ protocol.EventType, err error) {
	d.logger.Debug("Dropping malformed event",
		slog.String("conn_id", connID),
		slog.String("event", string(typ)),
		slog.String("error", err.Error()),
	)
}

func (d *Dispatcher) updateGauges() {
	if d.metrics == nil {
		return
	}
	d.metrics.ActiveStreams.Set(float64(d.registry.SessionCount()))
	d.metrics.Followers.Set(float64(d.registry.FollowerCount()))
}
