package server

import (
	"log/slog"

	"github.com/Vicinious/udp-webrtc-player/internal/protocol"
)

// The hub doubles as the notifier for the registry and the ingestion path:
// registry side effects and data-available notices become control-plane
// events on the named connections.

// DataAvailable broadcasts a dataAvailable notice to every connection.
func (h *Hub) DataAvailable(bufferLen int, bytesPerSecond int64) {
	data, err := protocol.Encode(protocol.DataAvailable{
		Type:       protocol.TypeDataAvailable,
		BufferSize: bufferLen,
		Throughput: bytesPerSecond,
		Timestamp:  protocol.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode dataAvailable", slog.String("error", err.Error()))
		return
	}
	h.Broadcast("", data)
}

// StreamAvailable announces a new stream to every connection but the source.
func (h *Hub) StreamAvailable(streamID, sourceID string) {
	data, err := protocol.Encode(protocol.StreamNotice{
		Type:      protocol.TypeStreamAvailable,
		StreamID:  streamID,
		Timestamp: protocol.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode streamAvailable", slog.String("error", err.Error()))
		return
	}
	h.Broadcast(sourceID, data)
}

// StreamEnded tells each follower the stream is gone.
func (h *Hub) StreamEnded(streamID string, followerIDs []string, reason string) {
	data, err := protocol.Encode(protocol.StreamEnded{
		Type:      protocol.TypeStreamEnded,
		StreamID:  streamID,
		Timestamp: protocol.Now(),
		Reason:    reason,
	})
	if err != nil {
		h.logger.Error("Failed to encode streamEnded", slog.String("error", err.Error()))
		return
	}
	for _, id := range followerIDs {
		h.Send(id, data)
	}
}

// StreamUnavailable tells a would-be follower that no source exists.
func (h *Hub) StreamUnavailable(streamID, followerID string) {
	data, err := protocol.Encode(protocol.StreamNotice{
		Type:      protocol.TypeStreamUnavailable,
		StreamID:  streamID,
		Timestamp: protocol.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode streamUnavailable", slog.String("error", err.Error()))
		return
	}
	h.Send(followerID, data)
}

// FollowerConnected tells the source a follower registered.
func (h *Hub) FollowerConnected(streamID, sourceID, followerID string) {
	data, err := protocol.Encode(protocol.FollowerNotice{
		Type:       protocol.TypeFollowerConnected,
		FollowerID: followerID,
		Timestamp:  protocol.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode followerConnected", slog.String("error", err.Error()))
		return
	}
	h.Send(sourceID, data)
}

// FollowerDisconnected tells the source a follower left.
func (h *Hub) FollowerDisconnected(streamID, sourceID, followerID string) {
	data, err := protocol.Encode(protocol.FollowerNotice{
		Type:       protocol.TypeFollowerDisconnected,
		FollowerID: followerID,
		Timestamp:  protocol.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode followerDisconnected", slog.String("error", err.Error()))
		return
	}
	h.Send(sourceID, data)
}
