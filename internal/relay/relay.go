package relay

import (
	"log/slog"

	"github.com/Vicinious/udp-webrtc-player/internal/protocol"
)

// Sender delivers encoded control-plane messages to connections. The hub
// implements it.
type Sender interface {
	// Send delivers to one connection, reporting false if it is gone.
	Send(connID string, data []byte) bool
	// Broadcast delivers to every connection except the named one.
	Broadcast(exceptID string, data []byte)
}

// Relay is the signaling forwarder. It augments each message with the
// sender's connection ID and a timestamp and otherwise passes the body
// through untouched.
type Relay struct {
	sender Sender
	logger *slog.Logger
}

// New creates a relay delivering through the given sender.
func New(logger *slog.Logger, sender Sender) *Relay {
	return &Relay{sender: sender, logger: logger}
}

// Forward routes one signal event from senderID. A message with a targetId
// goes to that connection only; without one it is broadcast to every other
// connection. A vanished target means a silent drop; the sender is not
// informed. Malformed bodies are dropped the same way.
func (r *Relay) Forward(senderID string, raw []byte) {
	target, err := protocol.SignalTarget(raw)
	if err != nil {
		r.logger.Debug("Dropping malformed signal",
			slog.String("from", senderID),
			slog.String("error", err.Error()),
		)
		return
	}

	out, err := protocol.AugmentSignal(raw, senderID, protocol.Now())
	if err != nil {
		r.logger.Debug("Dropping malformed signal",
			slog.String("from", senderID),
			slog.String("error", err.Error()),
		)
		return
	}

	if target == "" {
		r.sender.Broadcast(senderID, out)
		return
	}

	if !r.sender.Send(target, out) {
		r.logger.Debug("Signal target gone, dropping",
			slog.String("from", senderID),
			slog.String("target", target),
		)
	}
}
