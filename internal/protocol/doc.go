// Package protocol defines the JSON event envelope carried over the
// control-plane channel: named client events in, notices and data windows
// out. Signaling bodies stay opaque; only the type discriminant and the
// optional target are ever read.
package protocol
