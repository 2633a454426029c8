package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminant field of every control-plane message.
type EventType string

// Client events.
const (
	TypeRequestDataWindow  EventType = "requestDataWindow"
	TypeRegisterSource     EventType = "registerSource"
	TypeUnregisterSource   EventType = "unregisterSource"
	TypeRegisterFollower   EventType = "registerFollower"
	TypeUnregisterFollower EventType = "unregisterFollower"
	TypeSignal             EventType = "signal"
)

// Server events.
const (
	TypeDataWindow            EventType = "dataWindow"
	TypeDataAvailable         EventType = "dataAvailable"
	TypeStreamAvailable       EventType = "streamAvailable"
	TypeStreamEnded           EventType = "streamEnded"
	TypeStreamUnavailable     EventType = "streamUnavailable"
	TypeFollowerConnected     EventType = "followerConnected"
	TypeFollowerDisconnected  EventType = "followerDisconnected"
	TypeConnectionEstablished EventType = "connectionEstablished"
)

// envelope extracts only the discriminant from a raw message.
type envelope struct {
	Type EventType `json:"type"`
}

// DecodeType returns the event type of a raw control-plane message.
func DecodeType(data []byte) (EventType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("malformed event: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("event missing type field")
	}
	return env.Type, nil
}

// RequestDataWindow asks for a slice of the packet buffer.
type RequestDataWindow struct {
	StartIndex int `json:"startIndex"`
	ChunkSize  int `json:"chunkSize"`
}

// StreamRef carries the stream identifier of the role events.
type StreamRef struct {
	StreamID string `json:"streamId"`
}

// DecodeRequestDataWindow parses a requestDataWindow event.
func DecodeRequestDataWindow(data []byte) (RequestDataWindow, error) {
	var req RequestDataWindow
	if err := json.Unmarshal(data, &req); err != nil {
		return RequestDataWindow{}, fmt.Errorf("malformed requestDataWindow: %w", err)
	}
	return req, nil
}

// DecodeStreamRef parses the streamId out of a role event.
func DecodeStreamRef(data []byte) (StreamRef, error) {
	var ref StreamRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return StreamRef{}, fmt.Errorf("malformed stream event: %w", err)
	}
	if ref.StreamID == "" {
		return StreamRef{}, fmt.Errorf("stream event missing streamId")
	}
	return ref, nil
}

// Chunk is one buffered packet as delivered to a client. The payload is
// base64-encoded on the wire by encoding/json.
type Chunk struct {
	ID        string `json:"id"`
	Payload   []byte `json:"payloadBase64"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
}

// DataWindow is the reply to requestDataWindow.
type DataWindow struct {
	Type       EventType `json:"type"`
	Chunks     []Chunk   `json:"chunks"`
	NextIndex  int       `json:"nextIndex"`
	HasMore    bool      `json:"hasMore"`
	Timestamp  int64     `json:"timestamp"`
	Throughput int64     `json:"throughput"`
}

// DataAvailable is broadcast when new data has been ingested.
type DataAvailable struct {
	Type       EventType `json:"type"`
	BufferSize int       `json:"bufferSize"`
	Throughput int64     `json:"throughput"`
	Timestamp  int64     `json:"timestamp"`
}

// StreamNotice covers streamAvailable and streamUnavailable.
type StreamNotice struct {
	Type      EventType `json:"type"`
	StreamID  string    `json:"streamId"`
	Timestamp int64     `json:"timestamp"`
}

// StreamEnded tells a follower its stream is gone.
type StreamEnded struct {
	Type      EventType `json:"type"`
	StreamID  string    `json:"streamId"`
	Timestamp int64     `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// FollowerNotice covers followerConnected and followerDisconnected, sent to
// the source of a stream.
type FollowerNotice struct {
	Type       EventType `json:"type"`
	FollowerID string    `json:"followerId"`
	Timestamp  int64     `json:"timestamp"`
}

// ConnectionEstablished is the first message on every new connection.
type ConnectionEstablished struct {
	Type       EventType `json:"type"`
	BufferSize int       `json:"bufferSize"`
	ServerTime int64     `json:"serverTime"`
	Throughput int64     `json:"throughput"`
}

// Encode marshals a server event.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Now returns the wall clock as unix milliseconds, the timestamp unit used
// throughout the control plane.
func Now() int64 {
	return time.Now().UnixMilli()
}

// signalTarget extracts only the optional target of a signal event.
type signalTarget struct {
	TargetID string `json:"targetId"`
}

// SignalTarget returns the targetId of a signal event, empty for the
// broadcast form.
func SignalTarget(data []byte) (string, error) {
	var st signalTarget
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("malformed signal: %w", err)
	}
	return st.TargetID, nil
}

// AugmentSignal rewrites an opaque signal body for delivery: the sender's
// connection ID and a timestamp are appended and the routing target is
// stripped. The body itself is never interpreted.
func AugmentSignal(data []byte, senderID string, ts int64) ([]byte, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("malformed signal: %w", err)
	}

	delete(body, "targetId")

	from, _ := json.Marshal(senderID)
	body["from"] = from
	stamp, _ := json.Marshal(ts)
	body["timestamp"] = stamp

	return json.Marshal(body)
}
