package session

import (
	"io"
	"log/slog"
	"sort"
	"testing"
)

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	available    []string // "streamID/sourceID"
	ended        []string // "streamID/reason" once per call
	endedTo      []string // follower IDs across all calls
	unavailable  []string // "streamID/followerID"
	connected    []string // "streamID/sourceID/followerID"
	disconnected []string // "streamID/sourceID/followerID"
}

func (n *recordingNotifier) StreamAvailable(streamID, sourceID string) {
	n.available = append(n.available, streamID+"/"+sourceID)
}

func (n *recordingNotifier) StreamEnded(streamID string, followerIDs []string, reason string) {
	n.ended = append(n.ended, streamID+"/"+reason)
	n.endedTo = append(n.endedTo, followerIDs...)
}

func (n *recordingNotifier) StreamUnavailable(streamID, followerID string) {
	n.unavailable = append(n.unavailable, streamID+"/"+followerID)
}

func (n *recordingNotifier) FollowerConnected(streamID, sourceID, followerID string) {
	n.connected = append(n.connected, streamID+"/"+sourceID+"/"+followerID)
}

func (n *recordingNotifier) FollowerDisconnected(streamID, sourceID, followerID string) {
	n.disconnected = append(n.disconnected, streamID+"/"+sourceID+"/"+followerID)
}

func newTestRegistry() (*Registry, *recordingNotifier) {
	n := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(logger, n), n
}

func TestRegisterSource(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")

	if !reg.HasSession("s1") {
		t.Fatal("Expected session s1 to exist")
	}
	if kind, stream := reg.Role("c1"); kind != RoleSource || stream != "s1" {
		t.Errorf("Expected c1 to be source of s1, got %v/%s", kind, stream)
	}
	if len(n.available) != 1 || n.available[0] != "s1/c1" {
		t.Errorf("Expected one streamAvailable notice for s1/c1, got %v", n.available)
	}
}

func TestSingleSourceOverwrite(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "f1")
	reg.RegisterSource("s1", "c2")

	if kind, _ := reg.Role("c2"); kind != RoleSource {
		t.Error("Expected c2 to hold the source role")
	}

	// The follower set survives the overwrite.
	if reg.FollowerCount() != 1 {
		t.Errorf("Expected 1 follower after overwrite, got %d", reg.FollowerCount())
	}

	// A stale unregister from the displaced source must be ignored.
	reg.UnregisterSource("s1", "c1", ReasonSourceUnregistered)
	if !reg.HasSession("s1") {
		t.Error("Stale unregister from superseded source must not remove the session")
	}
}

func TestFollowerWithoutSource(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterFollower("s1", "c2")

	if len(n.unavailable) != 1 || n.unavailable[0] != "s1/c2" {
		t.Errorf("Expected streamUnavailable for s1/c2, got %v", n.unavailable)
	}
	if reg.FollowerCount() != 0 {
		t.Errorf("Expected no follower registered, got %d", reg.FollowerCount())
	}
	if kind, _ := reg.Role("c2"); kind != 0 {
		t.Error("Expected no role recorded for the refused follower")
	}
}

func TestFollowerConnectedNotice(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")

	if len(n.connected) != 1 || n.connected[0] != "s1/c1/c2" {
		t.Errorf("Expected followerConnected s1/c1/c2, got %v", n.connected)
	}
}

func TestSourceDisconnectEndsStream(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")
	reg.RegisterFollower("s1", "c3")

	reg.OnConnectionClosed("c1")

	if reg.HasSession("s1") {
		t.Error("Expected session removed after source disconnect")
	}
	if len(n.ended) != 1 || n.ended[0] != "s1/"+ReasonSourceDisconnected {
		t.Errorf("Expected streamEnded with source-disconnected, got %v", n.ended)
	}

	sort.Strings(n.endedTo)
	if len(n.endedTo) != 2 || n.endedTo[0] != "c2" || n.endedTo[1] != "c3" {
		t.Errorf("Expected both followers notified, got %v", n.endedTo)
	}
}

func TestUnregisterFollower(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")
	reg.UnregisterFollower("s1", "c2")

	if reg.FollowerCount() != 0 {
		t.Errorf("Expected 0 followers, got %d", reg.FollowerCount())
	}
	if len(n.disconnected) != 1 || n.disconnected[0] != "s1/c1/c2" {
		t.Errorf("Expected followerDisconnected s1/c1/c2, got %v", n.disconnected)
	}
}

func TestUnregisterUnknownFollowerIsNoop(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.UnregisterFollower("s1", "ghost")
	reg.UnregisterFollower("nosuch", "ghost")

	if len(n.disconnected) != 0 {
		t.Errorf("Expected no notices for unknown follower, got %v", n.disconnected)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")

	reg.OnConnectionClosed("c2")
	reg.OnConnectionClosed("c2")

	if len(n.disconnected) != 1 {
		t.Errorf("Expected exactly one followerDisconnected, got %d", len(n.disconnected))
	}

	reg.OnConnectionClosed("c1")
	reg.OnConnectionClosed("c1")

	if len(n.ended) != 1 {
		t.Errorf("Expected exactly one streamEnded, got %d", len(n.ended))
	}
}

func TestFollowerDisconnectCleanup(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")

	reg.OnConnectionClosed("c2")

	if reg.FollowerCount() != 0 {
		t.Errorf("Expected follower removed on disconnect, got %d", reg.FollowerCount())
	}
	if kind, _ := reg.Role("c2"); kind != 0 {
		t.Error("Expected role entry removed on disconnect")
	}
	if !reg.HasSession("s1") {
		t.Error("Follower disconnect must not end the stream")
	}
}

func TestExplicitUnregisterSourceReason(t *testing.T) {
	reg, n := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterFollower("s1", "c2")
	reg.UnregisterSource("s1", "c1", ReasonSourceUnregistered)

	if len(n.ended) != 1 || n.ended[0] != "s1/"+ReasonSourceUnregistered {
		t.Errorf("Expected streamEnded with source-unregistered, got %v", n.ended)
	}
	if reg.SessionCount() != 0 {
		t.Errorf("Expected no sessions, got %d", reg.SessionCount())
	}
}

func TestCounts(t *testing.T) {
	reg, _ := newTestRegistry()

	reg.RegisterSource("s1", "c1")
	reg.RegisterSource("s2", "c2")
	reg.RegisterFollower("s1", "f1")
	reg.RegisterFollower("s1", "f2")
	reg.RegisterFollower("s2", "f3")

	if reg.SessionCount() != 2 {
		t.Errorf("Expected 2 sessions, got %d", reg.SessionCount())
	}
	if reg.FollowerCount() != 3 {
		t.Errorf("Expected 3 followers, got %d", reg.FollowerCount())
	}
}
