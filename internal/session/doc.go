// Package session tracks which connection is the active source for a stream
// identifier and which connections follow it. It enforces the
// single-source-per-stream invariant by overwrite and owns the one cleanup
// path for disconnecting connections.
package session
