package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Vicinious/udp-webrtc-player/internal/admission"
	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/ingest"
	"github.com/Vicinious/udp-webrtc-player/internal/protocol"
	"github.com/Vicinious/udp-webrtc-player/internal/relay"
	"github.com/Vicinious/udp-webrtc-player/internal/session"
)

// recordingSender captures deliveries in place of the hub.
type recordingSender struct {
	sent      map[string][][]byte
	broadcast [][]byte
	gone      map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		sent: make(map[string][][]byte),
		gone: make(map[string]bool),
	}
}

func (s *recordingSender) Send(connID string, data []byte) bool {
	if s.gone[connID] {
		return false
	}
	s.sent[connID] = append(s.sent[connID], data)
	return true
}

func (s *recordingSender) Broadcast(exceptID string, data []byte) {
	s.broadcast = append(s.broadcast, data)
}

// nopNotifier satisfies session.Notifier for dispatcher tests that do not
// inspect notifications.
type nopNotifier struct{}

func (nopNotifier) StreamAvailable(streamID, sourceID string) {}

func (nopNotifier) StreamEnded(streamID string, followers []string, reason string) {}

func (nopNotifier) StreamUnavailable(streamID, followerID string) {}

func (nopNotifier) FollowerConnected(streamID, sourceID, followerID string) {}

func (nopNotifier) FollowerDisconnected(streamID, sourceID, followerID string) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, limits map[string]admission.ClassLimit) (*Dispatcher, *recordingSender, *session.Registry, *buffer.Buffer) {
	t.Helper()

	logger := testLogger()
	sender := newRecordingSender()
	buf := buffer.New(1024*1024, 50)
	tp := ingest.NewThroughput()
	registry := session.NewRegistry(logger, nopNotifier{})
	rly := relay.New(logger, sender)
	events := admission.NewEventGate(limits)

	d := NewDispatcher(logger, nil, buf, tp, registry, rly, events, sender)
	return d, sender, registry, buf
}

func TestDispatchDataWindowReply(t *testing.T) {
	d, sender, _, buf := newTestDispatcher(t, nil)

	now := time.Now()
	for i := 0; i < 3; i++ {
		buf.Push(buffer.NewPacket([]byte{byte(i), 1, 2}, now))
	}

	d.Dispatch("conn-1", []byte(`{"type":"requestDataWindow","startIndex":0,"chunkSize":2}`))

	msgs := sender.sent["conn-1"]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(msgs))
	}

	var win protocol.DataWindow
	if err := json.Unmarshal(msgs[0], &win); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if win.Type != protocol.TypeDataWindow {
		t.Errorf("type = %q, want %q", win.Type, protocol.TypeDataWindow)
	}
	if len(win.Chunks) != 2 {
		t.Errorf("chunks = %d, want 2", len(win.Chunks))
	}
	if win.NextIndex != 2 {
		t.Errorf("nextIndex = %d, want 2", win.NextIndex)
	}
	if !win.HasMore {
		t.Error("hasMore = false, want true")
	}
}

func TestDispatchRoleEvents(t *testing.T) {
	d, _, registry, _ := newTestDispatcher(t, nil)

	d.Dispatch("src-1", []byte(`{"type":"registerSource","streamId":"cam-a"}`))
	if !registry.HasSession("cam-a") {
		t.Fatal("expected session for cam-a after registerSource")
	}

	d.Dispatch("fol-1", []byte(`{"type":"registerFollower","streamId":"cam-a"}`))
	if got := registry.FollowerCount(); got != 1 {
		t.Errorf("follower count = %d, want 1", got)
	}

	d.Dispatch("fol-1", []byte(`{"type":"unregisterFollower","streamId":"cam-a"}`))
	if got := registry.FollowerCount(); got != 0 {
		t.Errorf("follower count after unregister = %d, want 0", got)
	}

	d.Dispatch("src-1", []byte(`{"type":"unregisterSource","streamId":"cam-a"}`))
	if registry.HasSession("cam-a") {
		t.Error("session should be gone after unregisterSource")
	}
}

func TestDispatchSignalForwarding(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t, nil)

	d.Dispatch("alice", []byte(`{"type":"signal","targetId":"bob","sdp":"offer"}`))

	msgs := sender.sent["bob"]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery to bob, got %d", len(msgs))
	}

	var body map[string]any
	if err := json.Unmarshal(msgs[0], &body); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	if body["from"] != "alice" {
		t.Errorf("from = %v, want alice", body["from"])
	}
	if _, ok := body["targetId"]; ok {
		t.Error("targetId should be stripped before delivery")
	}
	if body["sdp"] != "offer" {
		t.Errorf("sdp = %v, want offer", body["sdp"])
	}
}

func TestDispatchMalformedDropped(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t, nil)

	d.Dispatch("conn-1", []byte(`not json`))
	d.Dispatch("conn-1", []byte(`{"no":"type"}`))
	d.Dispatch("conn-1", []byte(`{"type":"registerSource"}`))
	d.Dispatch("conn-1", []byte(`{"type":"somethingUnknown"}`))

	if len(sender.sent) != 0 || len(sender.broadcast) != 0 {
		t.Error("malformed events must not produce deliveries")
	}
}

func TestDispatchEventGateDropsOverLimit(t *testing.T) {
	d, sender, _, buf := newTestDispatcher(t, map[string]admission.ClassLimit{
		ClassData: {Interval: time.Minute, Limit: 2},
	})
	buf.Push(buffer.NewPacket([]byte{1}, time.Now()))

	req := []byte(`{"type":"requestDataWindow","startIndex":0,"chunkSize":1}`)
	for i := 0; i < 5; i++ {
		d.Dispatch("greedy", req)
	}

	if got := len(sender.sent["greedy"]); got != 2 {
		t.Errorf("replies = %d, want 2 (limit)", got)
	}
}

func TestDispatchGateIsPerConnection(t *testing.T) {
	d, sender, _, buf := newTestDispatcher(t, map[string]admission.ClassLimit{
		ClassData: {Interval: time.Minute, Limit: 1},
	})
	buf.Push(buffer.NewPacket([]byte{1}, time.Now()))

	req := []byte(`{"type":"requestDataWindow","startIndex":0,"chunkSize":1}`)
	for i := 0; i < 3; i++ {
		d.Dispatch(fmt.Sprintf("conn-%d", i), req)
	}

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("conn-%d", i)
		if got := len(sender.sent[id]); got != 1 {
			t.Errorf("%s replies = %d, want 1", id, got)
		}
	}
}

func TestConnectionClosedCleansUpRoles(t *testing.T) {
	d, _, registry, _ := newTestDispatcher(t, nil)

	d.Dispatch("src-1", []byte(`{"type":"registerSource","streamId":"cam-a"}`))
	d.Dispatch("fol-1", []byte(`{"type":"registerFollower","streamId":"cam-a"}`))

	d.ConnectionClosed("src-1")
	if registry.HasSession("cam-a") {
		t.Error("session should end when the source connection closes")
	}

	// A second close of the same connection must be a no-op.
	d.ConnectionClosed("src-1")
}
