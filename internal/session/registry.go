package session

import (
	"log/slog"
	"sync"
)

// RoleKind distinguishes the two connection roles.
type RoleKind int

const (
	RoleSource RoleKind = iota + 1
	RoleFollower
)

func (r RoleKind) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleFollower:
		return "follower"
	default:
		return "none"
	}
}

// End reasons reported to followers in streamEnded notices.
const (
	ReasonSourceDisconnected = "source-disconnected"
	ReasonSourceUnregistered = "source-unregistered"
)

// Notifier receives the registry's side effects. The control-plane server
// implements it by emitting events to the named connections.
type Notifier interface {
	// StreamAvailable announces a new stream to every connection except the
	// source itself.
	StreamAvailable(streamID, sourceID string)
	// StreamEnded tells each listed follower the stream is gone.
	StreamEnded(streamID string, followerIDs []string, reason string)
	// StreamUnavailable tells a would-be follower that no source exists.
	StreamUnavailable(streamID, followerID string)
	// FollowerConnected tells the source a follower registered.
	FollowerConnected(streamID, sourceID, followerID string)
	// FollowerDisconnected tells the source a follower left.
	FollowerDisconnected(streamID, sourceID, followerID string)
}

// session is the live state for one stream identifier.
type session struct {
	source    string
	followers map[string]struct{}
}

// role resolves a connection back to its registration for cleanup without
// scanning all sessions.
type role struct {
	kind     RoleKind
	streamID string
}

// Registry is the stream session registry. All methods are safe for
// concurrent use; notifications are emitted after the state change and must
// not call back into the registry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	roles    map[string]role
	notifier Notifier
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, notifier Notifier) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		roles:    make(map[string]role),
		notifier: notifier,
		logger:   logger,
	}
}

// RegisterSource makes connID the source for streamID. An existing source
// registration is overwritten unconditionally; last writer wins and the
// displaced connection is not notified. The follower set survives the
// overwrite.
func (r *Registry) RegisterSource(streamID, connID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok {
		s = &session{followers: make(map[string]struct{})}
		r.sessions[streamID] = s
	}
	previous := s.source
	s.source = connID
	r.roles[connID] = role{kind: RoleSource, streamID: streamID}
	r.mu.Unlock()

	if previous != "" && previous != connID {
		r.logger.Info("Source superseded",
			slog.String("stream_id", streamID),
			slog.String("previous", previous),
			slog.String("source", connID),
		)
	} else {
		r.logger.Info("Source registered",
			slog.String("stream_id", streamID),
			slog.String("source", connID),
		)
	}

	r.notifier.StreamAvailable(streamID, connID)
}

// UnregisterSource removes the session for streamID if connID is the
// currently stored source. Stale requests from a superseded source are
// ignored. On success every follower is told the stream ended and the
// follower set is discarded.
func (r *Registry) UnregisterSource(streamID, connID, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok || s.source != connID {
		r.mu.Unlock()
		return
	}

	followers := make([]string, 0, len(s.followers))
	for id := range s.followers {
		followers = append(followers, id)
	}
	delete(r.sessions, streamID)
	if ro, ok := r.roles[connID]; ok && ro.kind == RoleSource && ro.streamID == streamID {
		delete(r.roles, connID)
	}
	r.mu.Unlock()

	r.logger.Info("Stream ended",
		slog.String("stream_id", streamID),
		slog.String("source", connID),
		slog.String("reason", reason),
		slog.Int("followers", len(followers)),
	)

	r.notifier.StreamEnded(streamID, followers, reason)
}

// RegisterFollower adds connID to the follower set of streamID. With no
// source registered the caller gets a stream-unavailable notice and nothing
// else happens; otherwise the current source is told a follower connected.
func (r *Registry) RegisterFollower(streamID, connID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok || s.source == "" {
		r.mu.Unlock()
		r.notifier.StreamUnavailable(streamID, connID)
		return
	}

	s.followers[connID] = struct{}{}
	r.roles[connID] = role{kind: RoleFollower, streamID: streamID}
	source := s.source
	r.mu.Unlock()

	r.logger.Debug("Follower registered",
		slog.String("stream_id", streamID),
		slog.String("follower", connID),
	)

	r.notifier.FollowerConnected(streamID, source, connID)
}

// UnregisterFollower removes connID from the follower set if present and
// tells the source. Calling it for a connection that never followed is a
// no-op.
func (r *Registry) UnregisterFollower(streamID, connID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := s.followers[connID]; !present {
		r.mu.Unlock()
		return
	}

	delete(s.followers, connID)
	if ro, ok := r.roles[connID]; ok && ro.kind == RoleFollower && ro.streamID == streamID {
		delete(r.roles, connID)
	}
	source := s.source
	r.mu.Unlock()

	r.logger.Debug("Follower unregistered",
		slog.String("stream_id", streamID),
		slog.String("follower", connID),
	)

	if source != "" {
		r.notifier.FollowerDisconnected(streamID, source, connID)
	}
}

// OnConnectionClosed is the single cleanup path for a disconnecting
// connection: it resolves the recorded role and unregisters accordingly.
// Idempotent; the second call for the same connection finds no role and does
// nothing.
func (r *Registry) OnConnectionClosed(connID string) {
	r.mu.Lock()
	ro, ok := r.roles[connID]
	r.mu.Unlock()
	if !ok {
		return
	}

	switch ro.kind {
	case RoleSource:
		r.UnregisterSource(ro.streamID, connID, ReasonSourceDisconnected)
	case RoleFollower:
		r.UnregisterFollower(ro.streamID, connID)
	}

	// UnregisterSource ignores stale owners, so a superseded source's role
	// entry can survive the calls above.
	r.mu.Lock()
	delete(r.roles, connID)
	r.mu.Unlock()
}

// Role returns the registered role for a connection, or zero values if none.
func (r *Registry) Role(connID string) (RoleKind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ro, ok := r.roles[connID]
	if !ok {
		return 0, ""
	}
	return ro.kind, ro.streamID
}

// SessionCount returns the number of live streams.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// FollowerCount returns the total follower registrations across all streams.
func (r *Registry) FollowerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.sessions {
		total += len(s.followers)
	}
	return total
}

// HasSession reports whether a stream currently has a source.
func (r *Registry) HasSession(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[streamID]
	return ok
}
