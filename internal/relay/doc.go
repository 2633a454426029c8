// Package relay forwards opaque negotiation messages between connections:
// directed to a named target, or broadcast to everyone but the sender when
// no target is named. Payload bodies are never inspected.
package relay
